// Package tokens backs the translation pipeline's token-accounting fallback
// (spec §4.6): a tiktoken cl100k_base encoder with a correction factor for
// prompt-side estimation, and a chars-per-token estimator used when the
// tokenizer codec could not be loaded or fails to encode a text.
package tokens

import (
	"encoding/json"
	"log/slog"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// correctionFactor compensates for cl100k_base under-counting relative to
// the upstream's own (unknown) tokenizer, per spec §4.6.
const correctionFactor = 1.15

// charsPerToken is the fallback estimate when no tokenizer codec is
// available or encoding fails.
const charsPerToken = 4.0

// Counter estimates prompt and completion token counts for the translation
// pipeline's usage accounting when the upstream did not emit a
// contextUsagePercentage signal.
type Counter struct {
	codec  tokenizer.Codec
	logger *slog.Logger
}

// NewCounter loads the cl100k_base codec once at construction. If loading
// fails, the Counter falls back to the chars-per-token estimate for every
// call and logs once here rather than on every request.
func NewCounter(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		logger.Warn("tiktoken codec unavailable, falling back to chars-per-token estimate", "error", err)
		return &Counter{logger: logger}
	}
	return &Counter{codec: codec, logger: logger}
}

func (c *Counter) encode(text string) (int, bool) {
	if c.codec == nil || text == "" {
		return 0, c.codec != nil
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		c.logger.Debug("tiktoken encode failed, falling back", "error", err)
		return 0, false
	}
	return len(ids), true
}

func (c *Counter) estimate(text string) int {
	return int(float64(len(text)) / charsPerToken)
}

// EstimatePromptTokens approximates the prompt-side token count from the
// canonical request's messages, system prompt, and tool definitions, per
// spec §4.6. The tiktoken-derived count is scaled by correctionFactor; the
// chars-per-token fallback is not (it is already a rough approximation).
func (c *Counter) EstimatePromptTokens(req *domain.CanonicalRequest) int {
	var text string
	if req.SystemPrompt != "" {
		text += req.SystemPrompt + "\n"
	}
	for _, msg := range req.Messages {
		text += string(msg.Role) + "\n" + msg.Text() + "\n"
		for _, tc := range msg.ToolCalls {
			text += tc.Function.Name + tc.Function.Arguments
		}
	}
	for _, tool := range req.Tools {
		text += tool.Name + tool.Description
		if tool.InputSchema != nil {
			if raw, err := json.Marshal(tool.InputSchema); err == nil {
				text += string(raw)
			}
		}
	}

	if n, ok := c.encode(text); ok {
		return int(float64(n) * correctionFactor)
	}
	return c.estimate(text)
}

// CountCompletionTokens counts the concatenated assistant output text. Per
// spec §4.6 this is always the raw tiktoken count, uncorrected.
func (c *Counter) CountCompletionTokens(text string) int {
	if n, ok := c.encode(text); ok {
		return n
	}
	return c.estimate(text)
}
