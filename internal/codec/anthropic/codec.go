// Package anthropic converts between the Anthropic Messages wire format
// and the canonical request/response shapes (spec §4.3).
package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/tjfontaine/kiro-gateway/internal/codec"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// Codec implements codec.Codec for the Anthropic dialect.
type Codec struct {
	ToolDescriptionMaxLength int
}

// New creates an Anthropic codec using the default long-description threshold.
func New() *Codec {
	return NewWithToolDescriptionMaxLength(codec.DefaultToolDescriptionMaxLength)
}

// NewWithToolDescriptionMaxLength creates an Anthropic codec honoring the
// TOOL_DESCRIPTION_MAX_LENGTH configuration value (spec §4.3, §6).
func NewWithToolDescriptionMaxLength(maxLength int) *Codec {
	if maxLength <= 0 {
		maxLength = codec.DefaultToolDescriptionMaxLength
	}
	return &Codec{ToolDescriptionMaxLength: maxLength}
}

func (c *Codec) Name() domain.Dialect { return domain.DialectAnthropic }

// systemField accepts either a bare string or an array of {type, text}
// blocks, Anthropic's two accepted shapes for the top-level "system" field.
type systemField struct {
	text string
}

func (s *systemField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.text = str
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	for i, b := range blocks {
		if i > 0 {
			s.text += "\n"
		}
		s.text += b.Text
	}
	return nil
}

type wireToolUse struct {
	Type  string `json:"type"` // "tool_use"
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input any    `json:"input"`
}

type wireToolResult struct {
	Type      string `json:"type"` // "tool_result"
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    domain.Role           `json:"role"`
	Content domain.MessageContent `json:"content"`
}

type wireTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type wireRequest struct {
	Model       string          `json:"model"`
	System      *systemField    `json:"system,omitempty"`
	Messages    []wireMessage   `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float32        `json:"temperature,omitempty"`
	TopP        *float32        `json:"top_p,omitempty"`
	StopSeq     []string        `json:"stop_sequences,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
}

// DecodeRequest converts an Anthropic Messages request body into a
// CanonicalRequest. tool_use/tool_result content blocks are projected onto
// the canonical ToolCalls/ToolCallID fields so codec.Finalize's tool-message
// promotion treats them uniformly with the OpenAI dialect's flat shape.
func (c *Codec) DecodeRequest(data []byte) (*domain.CanonicalRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, fmt.Errorf("decoding anthropic request: %w", err)
	}

	var messages []domain.Message
	if wr.System != nil && wr.System.text != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: domain.NewTextContent(wr.System.text)})
	}

	for _, m := range wr.Messages {
		if m.Content.IsSimpleText() {
			messages = append(messages, domain.Message{Role: m.Role, Content: m.Content})
			continue
		}
		msgs := splitAnthropicContentParts(m.Role, m.Content.Parts)
		messages = append(messages, msgs...)
	}

	req := &domain.CanonicalRequest{
		Model:         wr.Model,
		Messages:      messages,
		Stream:        wr.Stream,
		MaxTokens:     wr.MaxTokens,
		Temperature:   wr.Temperature,
		TopP:          wr.TopP,
		Stop:          wr.StopSeq,
		ToolChoice:    wr.ToolChoice,
		Tools:         codec.NormalizeTools(wr.Tools),
		SourceDialect: domain.DialectAnthropic,
	}
	return codec.Finalize(req, c.ToolDescriptionMaxLength), nil
}

// splitAnthropicContentParts separates tool_result blocks (projected to
// synthetic role=tool messages so codec.Finalize's promotion logic handles
// them uniformly) from the remaining text/image/tool_use parts, which stay
// on one message of the original role.
func splitAnthropicContentParts(role domain.Role, parts []domain.ContentPart) []domain.Message {
	var kept []domain.ContentPart
	var toolCalls []domain.ToolCall
	var out []domain.Message

	for _, p := range parts {
		switch p.Type {
		case domain.ContentTypeToolResult:
			out = append(out, domain.Message{
				Role:       domain.RoleTool,
				Content:    domain.NewTextContent(p.Content),
				ToolCallID: p.ToolUseID,
			})
		case domain.ContentTypeToolUse:
			argBytes, _ := json.Marshal(p.Input)
			toolCalls = append(toolCalls, domain.ToolCall{
				ID:   p.ID,
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      p.Name,
					Arguments: string(argBytes),
				},
			})
		default:
			kept = append(kept, p)
		}
	}

	if len(kept) > 0 || len(toolCalls) > 0 {
		msg := domain.Message{Role: role, ToolCalls: toolCalls}
		if len(kept) > 0 {
			msg.Content = domain.NewMultipartContent(kept...)
		}
		// The content/tool_use message goes first, ahead of the tool_result
		// messages split out above.
		out = append([]domain.Message{msg}, out...)
	}
	return out
}

// EncodeRequest renders a canonical request back into Anthropic wire
// format. Used only for diagnostics/tests.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest) ([]byte, error) {
	wr := wireRequest{Model: req.Model, Stream: req.Stream, MaxTokens: req.MaxTokens}
	if req.SystemPrompt != "" {
		wr.System = &systemField{text: req.SystemPrompt}
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		wr.Messages = append(wr.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(wr)
}

type wireResponseContent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	Role       string                `json:"role"`
	Model      string                `json:"model"`
	StopReason string                `json:"stop_reason"`
	Content    []wireResponseContent `json:"content"`
	Usage      wireUsage             `json:"usage"`
}

// EncodeResponse renders a CanonicalResponse as an Anthropic non-streaming
// message object (spec §4.6 "Collect mode").
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse) ([]byte, error) {
	wr := wireResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: resp.FinishReason.ToAnthropicStopReason(),
		Usage: wireUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if text := resp.Message.Text(); text != "" {
		wr.Content = append(wr.Content, wireResponseContent{Type: "text", Text: text})
	}
	for _, tc := range resp.ToolCalls {
		var input any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		wr.Content = append(wr.Content, wireResponseContent{
			Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input,
		})
	}
	return json.Marshal(wr)
}

var _ codec.Codec = (*Codec)(nil)
