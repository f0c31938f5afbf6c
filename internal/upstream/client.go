package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/kiro-gateway/internal/credential"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
	"github.com/tjfontaine/kiro-gateway/internal/eventstream"
)

const (
	defaultFirstTokenTimeout  = 120 * time.Second
	defaultNonStreamTimeout   = 900 * time.Second
	defaultStreamReadTimeout  = 30 * time.Second
	defaultSlowMultiplier     = 3.0
	defaultMaxEstablishRetries = 3
	generatePath              = "/generateAssistantResponse"
)

// ErrFirstTokenTimeout is returned by Stream when the first byte of a
// streaming response does not arrive within the adaptive first-token
// timeout. The translation pipeline is responsible for retrying the whole
// attempt (spec §4.4 / §4.6).
var ErrFirstTokenTimeout = errors.New("upstream: first token timeout")

// Client is the Upstream Client (UC, spec §4.4): a single streamRequest-like
// entry point with adaptive timeout and retry policy, layered on top of the
// Upstream Payload Builder (payload.go) and the Event Stream Parser.
type Client struct {
	cm         *credential.Manager
	httpClient *http.Client
	logger     *slog.Logger

	firstTokenTimeout  time.Duration
	nonStreamTimeout   time.Duration
	streamReadTimeout  time.Duration
	slowMultiplier     float64
	maxEstablishRetries int
}

// ClientOptions configures a Client; all fields are optional.
type ClientOptions struct {
	HTTPClient          *http.Client
	Logger              *slog.Logger
	FirstTokenTimeout   time.Duration
	NonStreamTimeout    time.Duration
	StreamReadTimeout   time.Duration
	SlowMultiplier      float64
	MaxEstablishRetries int
}

// NewClient constructs a Client bound to cm for token minting/refresh.
func NewClient(cm *credential.Manager, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	firstToken := opts.FirstTokenTimeout
	if firstToken <= 0 {
		firstToken = defaultFirstTokenTimeout
	}
	nonStream := opts.NonStreamTimeout
	if nonStream <= 0 {
		nonStream = defaultNonStreamTimeout
	}
	streamRead := opts.StreamReadTimeout
	if streamRead <= 0 {
		streamRead = defaultStreamReadTimeout
	}
	slowMult := opts.SlowMultiplier
	if slowMult <= 0 {
		slowMult = defaultSlowMultiplier
	}
	maxRetries := opts.MaxEstablishRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxEstablishRetries
	}

	return &Client{
		cm:                  cm,
		httpClient:          httpClient,
		logger:              logger,
		firstTokenTimeout:   firstToken,
		nonStreamTimeout:    nonStream,
		streamReadTimeout:   streamRead,
		slowMultiplier:      slowMult,
		maxEstablishRetries: maxRetries,
	}
}

func (c *Client) multiplier(model string) float64 {
	if IsSlowModel(model) {
		return c.slowMultiplier
	}
	return 1.0
}

// Stream implements domain.Upstream. It builds the upstream payload,
// establishes the streaming call (with the 403/429/5xx retry policy), and
// translates Event Stream Parser output into domain.CanonicalEvent values
// delivered on the returned channel.
func (c *Client) Stream(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	conversationID := uuid.NewString()
	payload := BuildPayload(c.logger, req, conversationID, c.cm.ProfileArn())
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, "failed to marshal upstream payload", err)
	}

	mult := c.multiplier(req.Model)
	firstPhaseTimeout := time.Duration(float64(c.firstTokenTimeout) * mult)
	if !req.Stream {
		firstPhaseTimeout = time.Duration(float64(c.nonStreamTimeout) * mult)
	}
	subsequentTimeout := time.Duration(float64(c.streamReadTimeout) * mult)

	url := c.cm.APIHost() + generatePath

	var lastErr error
	for attempt := 0; attempt < c.maxEstablishRetries; attempt++ {
		resp, status, err := c.establish(ctx, url, body, attempt, firstPhaseTimeout)
		if err != nil {
			if errors.Is(err, ErrFirstTokenTimeout) {
				if req.Stream {
					return nil, ErrFirstTokenTimeout
				}
				// Non-streaming: absorb the timeout with backoff, per §4.4.
				lastErr = err
				if waitErr := backoff(ctx, attempt); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			lastErr = err
			if waitErr := backoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if status == errStatus403 {
			if _, rerr := c.cm.ForceRefresh(ctx); rerr != nil {
				return nil, domain.WrapError(domain.ErrorKindTokenRefresh, "force refresh after 403 failed", rerr)
			}
			continue // immediate retry, no backoff, per §4.4
		}
		if status == errStatusRetriable {
			lastErr = fmt.Errorf("retriable upstream status")
			if waitErr := backoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if status == errStatusFatal {
			return nil, fatalUpstreamError(resp)
		}

		return c.streamEvents(resp, subsequentTimeout), nil
	}

	return nil, domain.WrapError(domain.ErrorKindUpstream, "upstream establish retries exhausted", lastErr)
}

// backoff waits base×2^attempt (spec §4.4 "exponential backoff, base 1s").
func backoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(time.Second * time.Duration(1<<uint(attempt))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type establishStatus int

const (
	errStatusNone establishStatus = iota
	errStatus403
	errStatusRetriable
	errStatusFatal
)

// establish performs one connect+auth+send attempt and classifies the
// resulting status. On success it returns the live *http.Response for the
// caller to stream from.
func (c *Client) establish(ctx context.Context, url string, body []byte, attempt int, timeout time.Duration) (*http.Response, establishStatus, error) {
	token, err := c.cm.GetAccessToken(ctx)
	if err != nil {
		return nil, errStatusNone, err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, errStatusNone, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.cm.UserAgent())
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", fmt.Sprintf("attempt=%d; max=%d", attempt+1, c.maxEstablishRetries))

	type result struct {
		resp *http.Response
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		resp, err := c.httpClient.Do(req)
		resultCh <- result{resp, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			cancel()
			return nil, errStatusRetriable, r.err
		}
		switch {
		case r.resp.StatusCode == http.StatusForbidden:
			r.resp.Body.Close()
			cancel()
			return nil, errStatus403, nil
		case isRetriableStatus(r.resp.StatusCode):
			r.resp.Body.Close()
			cancel()
			return nil, errStatusRetriable, nil
		case r.resp.StatusCode >= 400:
			r.resp.Body = cancelOnClose{r.resp.Body, cancel}
			return r.resp, errStatusFatal, nil
		default:
			r.resp.Body = cancelOnClose{r.resp.Body, cancel}
			return r.resp, errStatusNone, nil
		}
	case <-time.After(timeout):
		cancel()
		return nil, errStatusNone, ErrFirstTokenTimeout
	}
}

// cancelOnClose wraps a response body so that closing it also releases the
// context derived for that attempt (avoids leaking the cancel func on the
// success and fatal-4xx paths above).
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func isRetriableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func fatalUpstreamError(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return domain.NewError(domain.ErrorKindUpstream, fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(data))).WithStatus(resp.StatusCode)
}

type readResult struct {
	data []byte
	err  error
}

// pumpReads runs a single goroutine that repeatedly reads from r, sending
// each chunk (and the terminal error) on the returned channel. Using one
// long-lived reader goroutine — rather than spawning one per read attempt —
// avoids concurrent reads against the same body when a read is abandoned
// after a timeout.
func pumpReads(r io.Reader) <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		defer close(ch)
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				ch <- readResult{data: data}
			}
			if err != nil {
				ch <- readResult{err: err}
				return
			}
		}
	}()
	return ch
}

// streamEvents reads resp.Body incrementally, feeding bytes through the
// Event Stream Parser and translating its output into domain.CanonicalEvent
// values. Up to 3 consecutive per-read timeouts are tolerated (spec §4.6
// "Subsequent-chunk timeout") before the stream is given up on.
func (c *Client) streamEvents(resp *http.Response, readTimeout time.Duration) <-chan domain.CanonicalEvent {
	out := make(chan domain.CanonicalEvent, 8)
	parser := eventstream.NewParser(c.logger)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		reads := pumpReads(resp.Body)
		consecutiveTimeouts := 0
		sawToolCall := false
		var lastContextUsagePct *float64
		var lastCredits *float64
		gaveUp := false

	readLoop:
		for {
			select {
			case res, ok := <-reads:
				if !ok {
					break readLoop
				}
				consecutiveTimeouts = 0
				if len(res.data) > 0 {
					for _, ev := range parser.Feed(res.data) {
						switch ev.Type {
						case eventstream.EventContent:
							out <- domain.CanonicalEvent{ContentDelta: ev.Content}
						case eventstream.EventFollowupPrompt:
							// ignored, per spec §4.6
						case eventstream.EventUsage:
							lastCredits = ev.CreditsUsed
						case eventstream.EventContextUsage:
							lastContextUsagePct = ev.ContextUsagePercentage
						case eventstream.EventStop:
							sawToolCall = ev.AnyToolCalls
						}
					}
				}
				if res.err != nil {
					if res.err != io.EOF {
						c.logger.Debug("upstream stream read error", "error", res.err)
					}
					break readLoop
				}
			case <-time.After(readTimeout):
				consecutiveTimeouts++
				c.logger.Warn("upstream stream read timeout, tolerating", "consecutive", consecutiveTimeouts)
				if consecutiveTimeouts >= 3 {
					gaveUp = true
					break readLoop
				}
			}
		}

		if gaveUp {
			// Unblock and discard the still-running pump goroutine.
			resp.Body.Close()
			go func() {
				for range reads {
				}
			}()
			out <- domain.CanonicalEvent{Done: true, Err: domain.ErrTimeout("stream read timed out repeatedly")}
			return
		}

		finalTools := parser.Finalize()
		for i := range finalTools {
			t := finalTools[i]
			out <- domain.CanonicalEvent{ToolCall: &domain.ToolCall{
				ID:   t.ID,
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      t.Name,
					Arguments: t.Arguments,
				},
			}}
		}

		finish := domain.FinishStop
		if sawToolCall || len(finalTools) > 0 {
			finish = domain.FinishToolCalls
		}
		usage := &domain.Usage{}
		if lastCredits != nil {
			usage.CreditsUsed = lastCredits
		}
		out <- domain.CanonicalEvent{
			Done:                   true,
			FinishReason:           finish,
			Usage:                  usage,
			ContextUsagePercentage: lastContextUsagePct,
		}
	}()

	return out
}
