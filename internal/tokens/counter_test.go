package tokens

import (
	"testing"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

func TestEstimatePromptTokens_NonZeroForNonEmptyRequest(t *testing.T) {
	c := NewCounter(nil)
	req := &domain.CanonicalRequest{
		SystemPrompt: "You are a helpful assistant.",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: domain.NewTextContent("What is the weather in NYC?")},
		},
		Tools: []domain.Tool{
			{Name: "get_weather", Description: "Fetch current weather", InputSchema: map[string]any{"type": "object"}},
		},
	}
	if got := c.EstimatePromptTokens(req); got <= 0 {
		t.Fatalf("EstimatePromptTokens() = %d, want > 0", got)
	}
}

func TestEstimatePromptTokens_EmptyRequestIsZero(t *testing.T) {
	c := NewCounter(nil)
	if got := c.EstimatePromptTokens(&domain.CanonicalRequest{}); got != 0 {
		t.Fatalf("EstimatePromptTokens() = %d, want 0", got)
	}
}

func TestCountCompletionTokens_GrowsWithLength(t *testing.T) {
	c := NewCounter(nil)
	short := c.CountCompletionTokens("hello")
	long := c.CountCompletionTokens("hello there, this is a much longer piece of assistant output text")
	if long <= short {
		t.Fatalf("expected longer text to produce more tokens: short=%d long=%d", short, long)
	}
}

func TestCounter_FallsBackWithoutCodec(t *testing.T) {
	c := &Counter{}
	if got := c.CountCompletionTokens("some text here"); got <= 0 {
		t.Fatalf("fallback estimate = %d, want > 0", got)
	}
}
