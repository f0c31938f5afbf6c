package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

type openAIDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   string               `json:"content,omitempty"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIChunkChoice struct {
	Index        int          `json:"index"`
	Delta        openAIDelta  `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Model   string              `json:"model"`
	Choices []openAIChunkChoice `json:"choices"`
	Usage   *openAIUsage        `json:"usage,omitempty"`
}

// StreamToOpenAI implements spec §4.6's OpenAI framing over an http.Flusher.
func (p *Pipeline) StreamToOpenAI(ctx context.Context, w http.ResponseWriter, req *domain.CanonicalRequest) error {
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

	id := "chatcmpl-" + uuid.NewString()
	firstContent := true

	c := p.consume(events, func(content string) {
		delta := openAIDelta{Content: content}
		if firstContent {
			delta.Role = "assistant"
			firstContent = false
		}
		writeOpenAIChunk(w, flusher, openAIChunk{
			ID: id, Object: "chat.completion.chunk", Model: req.Model,
			Choices: []openAIChunkChoice{{Index: 0, Delta: delta}},
		})
	}, nil)
	if c.err != nil {
		writeOpenAIErrorFrame(w, flusher, c.err)
		return c.err
	}

	if len(c.toolCalls) > 0 {
		deltas := make([]openAIToolCallDelta, len(c.toolCalls))
		for i, tc := range c.toolCalls {
			deltas[i] = openAIToolCallDelta{Index: i, ID: tc.ID, Type: "function"}
			deltas[i].Function.Name = tc.Function.Name
			deltas[i].Function.Arguments = tc.Function.Arguments
		}
		writeOpenAIChunk(w, flusher, openAIChunk{
			ID: id, Object: "chat.completion.chunk", Model: req.Model,
			Choices: []openAIChunkChoice{{Index: 0, Delta: openAIDelta{ToolCalls: deltas}}},
		})
	}

	finish := "stop"
	if len(c.toolCalls) > 0 {
		finish = "tool_calls"
	}
	usage := p.computeUsage(req, c)
	writeOpenAIChunk(w, flusher, openAIChunk{
		ID: id, Object: "chat.completion.chunk", Model: req.Model,
		Choices: []openAIChunkChoice{{Index: 0, Delta: openAIDelta{}, FinishReason: &finish}},
		Usage: &openAIUsage{
			PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, TotalTokens: usage.TotalTokens,
		},
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

func writeOpenAIChunk(w http.ResponseWriter, flusher http.Flusher, chunk openAIChunk) {
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeOpenAIErrorFrame emits the dialect-specific final error frame for a
// mid-stream failure (spec §7 "Streaming mid-flight errors"). No [DONE]
// frame follows it.
func writeOpenAIErrorFrame(w http.ResponseWriter, flusher http.Flusher, err error) {
	gwErr, ok := err.(*domain.GatewayError)
	if !ok {
		gwErr = domain.ErrInternal(err.Error())
	}
	data, _ := json.Marshal(gwErr.ToOpenAI())
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
