package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
	"github.com/tjfontaine/kiro-gateway/internal/tokens"
	"github.com/tjfontaine/kiro-gateway/internal/upstream"
)

const (
	defaultMaxInputTokens = 200000
	maxFirstTokenRetries  = 3
	firstTokenRetrySpace  = time.Second
)

// Pipeline is the Translation Pipeline (TP, spec §4.6). One Pipeline serves
// every dialect; the per-dialect entry points (StreamToOpenAI, ...) differ
// only in SSE framing.
type Pipeline struct {
	upstream       domain.Upstream
	counter        *tokens.Counter
	logger         *slog.Logger
	maxInputTokens int
}

// Options configures a Pipeline.
type Options struct {
	Counter        *tokens.Counter
	Logger         *slog.Logger
	MaxInputTokens int
}

// New constructs a Pipeline over the given upstream.
func New(up domain.Upstream, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counter := opts.Counter
	if counter == nil {
		counter = tokens.NewCounter(logger)
	}
	maxInputTokens := opts.MaxInputTokens
	if maxInputTokens <= 0 {
		maxInputTokens = defaultMaxInputTokens
	}
	return &Pipeline{upstream: up, counter: counter, logger: logger, maxInputTokens: maxInputTokens}
}

// streamWithRetry issues the upstream call, retrying the whole attempt up
// to maxFirstTokenRetries times with a fixed spacing when the upstream
// client reports a first-token timeout (spec §4.6 "streamWithRetry").
func (p *Pipeline) streamWithRetry(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	var lastErr error
	for attempt := 0; attempt < maxFirstTokenRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(firstTokenRetrySpace):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		events, err := p.upstream.Stream(ctx, req)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !errors.Is(err, upstream.ErrFirstTokenTimeout) {
			return nil, err
		}
		p.logger.Warn("first-token timeout, retrying whole attempt", "attempt", attempt+1)
	}
	return nil, domain.WrapError(domain.ErrorKindTimeout, "first-token timeout retries exhausted", lastErr)
}

// collected holds one upstream stream's assistant text, tool calls, finish
// reason, final event and error after TP's content-deduplication pass
// (spec §4.6 "Content deduplication").
type collected struct {
	assistantText string
	toolCalls     []domain.ToolCall
	finishReason  domain.FinishReason
	final         domain.CanonicalEvent
	err           *domain.GatewayError
}

// consume drains the event channel, applying content dedup (drop a content
// event identical to the immediately preceding one) and accumulating the
// assistant text, tool calls, and the terminal event, invoking onContent /
// onToolCall for each surviving event as they arrive (streaming callers
// pass real SSE writers; Collect passes no-ops and reads the final struct).
func (p *Pipeline) consume(events <-chan domain.CanonicalEvent, onContent func(string), onToolCall func(domain.ToolCall)) collected {
	var out collected
	var lastContent string
	first := true

	for ev := range events {
		if ev.Err != nil {
			out.err = ev.Err
		}
		if ev.ContentDelta != "" {
			if first || ev.ContentDelta != lastContent {
				out.assistantText += ev.ContentDelta
				if onContent != nil {
					onContent(ev.ContentDelta)
				}
			}
			lastContent = ev.ContentDelta
			first = false
		}
		if ev.ToolCall != nil {
			out.toolCalls = append(out.toolCalls, *ev.ToolCall)
			if onToolCall != nil {
				onToolCall(*ev.ToolCall)
			}
		}
		if ev.Done {
			out.finishReason = ev.FinishReason
			out.final = ev
		}
	}
	return out
}

func (p *Pipeline) computeUsage(req *domain.CanonicalRequest, c collected) domain.Usage {
	completionTokens := p.counter.CountCompletionTokens(c.assistantText)

	var promptTokens, totalTokens int
	if c.final.ContextUsagePercentage != nil && *c.final.ContextUsagePercentage > 0 {
		totalTokens = int(*c.final.ContextUsagePercentage / 100 * float64(p.maxInputTokens))
		promptTokens = totalTokens - completionTokens
		if promptTokens < 0 {
			promptTokens = 0
		}
	} else {
		promptTokens = p.counter.EstimatePromptTokens(req)
	}
	totalTokens = promptTokens + completionTokens

	usage := domain.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: totalTokens}
	if c.final.Usage != nil {
		usage.CreditsUsed = c.final.Usage.CreditsUsed
	}
	return usage
}

// Collect implements non-streaming "collect mode" (spec §4.6): drain the
// streaming generator and reassemble one CanonicalResponse. The caller's
// codec then renders it into the client's dialect.
func (p *Pipeline) Collect(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	events, err := p.streamWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	c := p.consume(events, nil, nil)
	if c.err != nil {
		return nil, c.err
	}

	finish := c.finishReason
	if finish == "" {
		finish = domain.FinishStop
	}

	return &domain.CanonicalResponse{
		Model: req.Model,
		Message: domain.Message{
			Role:    domain.RoleAssistant,
			Content: domain.NewTextContent(c.assistantText),
		},
		ToolCalls:    c.toolCalls,
		FinishReason: finish,
		Usage:        p.computeUsage(req, c),
	}, nil
}
