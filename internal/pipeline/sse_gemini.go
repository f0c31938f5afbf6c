package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

func writeGeminiFrame(w http.ResponseWriter, flusher http.Flusher, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeGeminiErrorFrame emits the dialect-specific final error frame for a
// mid-stream failure (spec §7 "Streaming mid-flight errors").
func writeGeminiErrorFrame(w http.ResponseWriter, flusher http.Flusher, err error) {
	gwErr, ok := err.(*domain.GatewayError)
	if !ok {
		gwErr = domain.ErrInternal(err.Error())
	}
	writeGeminiFrame(w, flusher, gwErr.ToGemini())
}

// StreamToGemini implements spec §4.6's Gemini framing over an
// http.Flusher. Frames carry no named SSE event, unlike the Anthropic dialect.
func (p *Pipeline) StreamToGemini(ctx context.Context, w http.ResponseWriter, req *domain.CanonicalRequest) error {
	events, err := p.streamWithRetry(ctx, req)
	if err != nil {
		return err
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return domain.ErrInternal("streaming not supported by response writer")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := p.consume(events, func(content string) {
		writeGeminiFrame(w, flusher, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": content}}}},
			},
		})
	}, func(tc domain.ToolCall) {
		var args any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		writeGeminiFrame(w, flusher, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"role": "model", "parts": []any{
					map[string]any{"functionCall": map[string]any{"name": tc.Function.Name, "args": args}},
				}}},
			},
		})
	})
	if c.err != nil {
		writeGeminiErrorFrame(w, flusher, c.err)
		return c.err
	}

	usage := p.computeUsage(req, c)
	writeGeminiFrame(w, flusher, map[string]any{
		"candidates": []any{
			map[string]any{"finishReason": c.finishReason.ToGeminiFinishReason()},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     usage.PromptTokens,
			"candidatesTokenCount": usage.CompletionTokens,
			"totalTokenCount":      usage.TotalTokens,
		},
	})
	return nil
}
