package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

func writeAnthropicFrame(w http.ResponseWriter, flusher http.Flusher, eventType string, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}

// writeAnthropicErrorFrame emits the dialect-specific final error frame for
// a mid-stream failure (spec §7 "Streaming mid-flight errors"). No
// message_stop frame follows it.
func writeAnthropicErrorFrame(w http.ResponseWriter, flusher http.Flusher, err error) {
	gwErr, ok := err.(*domain.GatewayError)
	if !ok {
		gwErr = domain.ErrInternal(err.Error())
	}
	writeAnthropicFrame(w, flusher, "error", gwErr.ToAnthropic())
}

// StreamToAnthropic implements spec §4.6's Anthropic framing over an
// http.Flusher.
func (p *Pipeline) StreamToAnthropic(ctx context.Context, w http.ResponseWriter, req *domain.CanonicalRequest) error {
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

	messageID := "msg_" + uuid.NewString()
	inputTokenEstimate := p.counter.EstimatePromptTokens(req)

	writeAnthropicFrame(w, flusher, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": messageID, "type": "message", "role": "assistant",
			"model":   req.Model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": inputTokenEstimate, "output_tokens": 0},
		},
	})

	textBlockOpen := false
	blockIndex := 0

	c := p.consume(events, func(content string) {
		if !textBlockOpen {
			writeAnthropicFrame(w, flusher, "content_block_start", map[string]any{
				"type": "content_block_start", "index": blockIndex,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
			textBlockOpen = true
		}
		writeAnthropicFrame(w, flusher, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": content},
		})
	}, nil)
	if c.err != nil {
		writeAnthropicErrorFrame(w, flusher, c.err)
		return c.err
	}

	if textBlockOpen {
		writeAnthropicFrame(w, flusher, "content_block_stop", map[string]any{"type": "content_block_stop", "index": blockIndex})
		blockIndex++
	}

	for _, tc := range c.toolCalls {
		writeAnthropicFrame(w, flusher, "content_block_start", map[string]any{
			"type": "content_block_start", "index": blockIndex,
			"content_block": map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Function.Name, "input": map[string]any{}},
		})
		if tc.Function.Arguments != "" && tc.Function.Arguments != "{}" {
			writeAnthropicFrame(w, flusher, "content_block_delta", map[string]any{
				"type": "content_block_delta", "index": blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments},
			})
		}
		writeAnthropicFrame(w, flusher, "content_block_stop", map[string]any{"type": "content_block_stop", "index": blockIndex})
		blockIndex++
	}

	stopReason := "end_turn"
	if len(c.toolCalls) > 0 {
		stopReason = "tool_use"
	}
	usage := p.computeUsage(req, c)
	writeAnthropicFrame(w, flusher, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": map[string]any{"output_tokens": usage.CompletionTokens},
	})
	writeAnthropicFrame(w, flusher, "message_stop", map[string]any{"type": "message_stop"})
	return nil
}
