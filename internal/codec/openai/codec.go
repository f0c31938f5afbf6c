// Package openai converts between the OpenAI chat-completions wire format
// and the canonical request/response shapes (spec §4.3).
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/tjfontaine/kiro-gateway/internal/codec"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// Codec implements codec.Codec for the OpenAI dialect.
type Codec struct {
	ToolDescriptionMaxLength int
}

// New creates an OpenAI codec using the default long-description threshold.
func New() *Codec {
	return NewWithToolDescriptionMaxLength(codec.DefaultToolDescriptionMaxLength)
}

// NewWithToolDescriptionMaxLength creates an OpenAI codec honoring the
// TOOL_DESCRIPTION_MAX_LENGTH configuration value (spec §4.3, §6).
func NewWithToolDescriptionMaxLength(maxLength int) *Codec {
	if maxLength <= 0 {
		maxLength = codec.DefaultToolDescriptionMaxLength
	}
	return &Codec{ToolDescriptionMaxLength: maxLength}
}

func (c *Codec) Name() domain.Dialect { return domain.DialectOpenAI }

type wireMessage struct {
	Role       domain.Role           `json:"role"`
	Content    domain.MessageContent `json:"content"`
	Name       string                `json:"name,omitempty"`
	ToolCalls  []domain.ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
}

type wireRequest struct {
	Model               string          `json:"model"`
	Messages            []wireMessage   `json:"messages"`
	Stream              bool            `json:"stream,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float32        `json:"temperature,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	Tools               json.RawMessage `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
}

// DecodeRequest converts an OpenAI chat-completions request body into a
// CanonicalRequest, applying codec.Finalize (system-prompt extraction,
// message merge, tool-doc extraction) before returning.
func (c *Codec) DecodeRequest(data []byte) (*domain.CanonicalRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, fmt.Errorf("decoding openai request: %w", err)
	}

	messages := make([]domain.Message, len(wr.Messages))
	for i, m := range wr.Messages {
		messages[i] = domain.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}

	req := &domain.CanonicalRequest{
		Model:         wr.Model,
		Messages:      messages,
		Stream:        wr.Stream,
		Stop:          wr.Stop,
		ToolChoice:    wr.ToolChoice,
		Tools:         codec.NormalizeTools(wr.Tools),
		SourceDialect: domain.DialectOpenAI,
	}
	if wr.MaxCompletionTokens > 0 {
		req.MaxTokens = wr.MaxCompletionTokens
	} else {
		req.MaxTokens = wr.MaxTokens
	}
	req.Temperature = wr.Temperature
	req.TopP = wr.TopP

	return codec.Finalize(req, c.ToolDescriptionMaxLength), nil
}

// EncodeRequest renders a canonical request back into OpenAI wire format.
// Used only for diagnostics/tests; the gateway never re-emits this shape to
// a real OpenAI backend.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest) ([]byte, error) {
	messages := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = wireMessage{
			Role: m.Role, Content: m.Content, Name: m.Name,
			ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID,
		}
	}
	wr := wireRequest{
		Model: req.Model, Messages: messages, Stream: req.Stream,
		MaxTokens: req.MaxTokens, Temperature: req.Temperature, TopP: req.TopP, Stop: req.Stop,
	}
	return json.Marshal(wr)
}

type wireToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	Message      *wireMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EncodeResponse renders a CanonicalResponse as an OpenAI non-streaming
// chat-completion object (spec §4.6 "Collect mode").
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse) ([]byte, error) {
	msg := wireMessage{Role: resp.Message.Role, Content: resp.Message.Content, ToolCalls: resp.ToolCalls}
	wr := wireResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []wireChoice{{
			Index:        0,
			Message:      &msg,
			FinishReason: string(resp.FinishReason),
		}},
		Usage: wireUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(wr)
}

var _ codec.Codec = (*Codec)(nil)
