// Package gemini converts between the Gemini generateContent wire format
// and the canonical request/response shapes (spec §4.3). Gemini has no
// teacher analog; authored fresh in the sibling codecs' idiom.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/tjfontaine/kiro-gateway/internal/codec"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// Codec implements codec.Codec for the Gemini dialect.
type Codec struct {
	ToolDescriptionMaxLength int
}

// New creates a Gemini codec using the default long-description threshold.
func New() *Codec {
	return NewWithToolDescriptionMaxLength(codec.DefaultToolDescriptionMaxLength)
}

// NewWithToolDescriptionMaxLength creates a Gemini codec honoring the
// TOOL_DESCRIPTION_MAX_LENGTH configuration value (spec §4.3, §6).
func NewWithToolDescriptionMaxLength(maxLength int) *Codec {
	if maxLength <= 0 {
		maxLength = codec.DefaultToolDescriptionMaxLength
	}
	return &Codec{ToolDescriptionMaxLength: maxLength}
}

func (c *Codec) Name() domain.Dialect { return domain.DialectGemini }

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFunctionCall struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

type wireFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type wirePart struct {
	Text             string                `json:"text,omitempty"`
	InlineData       *wireInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireFunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDeclaration `json:"functionDeclarations"`
}

type wireGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type wireRequest struct {
	Contents          []wireContent         `json:"contents"`
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
	Tools             []wireTool            `json:"tools,omitempty"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
}

// DecodeRequest converts a Gemini generateContent request body into a
// CanonicalRequest. The model name itself arrives out-of-band (Gemini
// carries it in the URL path, not the body); callers must set req.Model
// after decoding.
func (c *Codec) DecodeRequest(data []byte) (*domain.CanonicalRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, fmt.Errorf("decoding gemini request: %w", err)
	}

	var messages []domain.Message
	if wr.SystemInstruction != nil {
		if text := concatText(wr.SystemInstruction.Parts); text != "" {
			messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: domain.NewTextContent(text)})
		}
	}

	for _, content := range wr.Contents {
		role := domain.RoleUser
		if content.Role == "model" {
			role = domain.RoleAssistant
		}
		messages = append(messages, partsToMessages(role, content.Parts)...)
	}

	req := &domain.CanonicalRequest{
		Messages:      messages,
		Tools:         flattenTools(wr.Tools),
		SourceDialect: domain.DialectGemini,
	}
	if wr.GenerationConfig != nil {
		req.MaxTokens = wr.GenerationConfig.MaxOutputTokens
		req.Temperature = wr.GenerationConfig.Temperature
		req.TopP = wr.GenerationConfig.TopP
		req.Stop = wr.GenerationConfig.StopSequences
	}
	return codec.Finalize(req, c.ToolDescriptionMaxLength), nil
}

func concatText(parts []wirePart) string {
	var text string
	for i, p := range parts {
		if i > 0 {
			text += "\n"
		}
		text += p.Text
	}
	return text
}

// partsToMessages splits a Gemini content block's parts into a text/image
// message plus one synthetic role=tool message per functionResponse part,
// mirroring the Anthropic codec's tool_result handling so codec.Finalize's
// promotion logic applies uniformly.
func partsToMessages(role domain.Role, parts []wirePart) []domain.Message {
	var kept []domain.ContentPart
	var toolCalls []domain.ToolCall
	var toolMsgs []domain.Message

	for _, p := range parts {
		switch {
		case p.FunctionResponse != nil:
			respBytes, _ := json.Marshal(p.FunctionResponse.Response)
			toolMsgs = append(toolMsgs, domain.Message{
				Role:       domain.RoleTool,
				Content:    domain.NewTextContent(string(respBytes)),
				ToolCallID: p.FunctionResponse.Name,
			})
		case p.FunctionCall != nil:
			argBytes, _ := json.Marshal(p.FunctionCall.Args)
			toolCalls = append(toolCalls, domain.ToolCall{
				Type:     "function",
				Function: domain.ToolCallFunction{Name: p.FunctionCall.Name, Arguments: string(argBytes)},
			})
		case p.InlineData != nil:
			kept = append(kept, domain.ImagePart(p.InlineData.MimeType, p.InlineData.Data))
		default:
			if p.Text != "" {
				kept = append(kept, domain.TextPart(p.Text))
			}
		}
	}

	var out []domain.Message
	if len(kept) > 0 || len(toolCalls) > 0 {
		msg := domain.Message{Role: role, ToolCalls: toolCalls}
		if len(kept) > 0 {
			msg.Content = domain.NewMultipartContent(kept...)
		}
		out = append(out, msg)
	}
	return append(out, toolMsgs...)
}

func flattenTools(tools []wireTool) []domain.Tool {
	var out []domain.Tool
	for _, t := range tools {
		for _, fn := range t.FunctionDeclarations {
			schema := fn.Parameters
			if schema == nil {
				schema = map[string]any{}
			}
			name := fn.Name
			if name == "web_search" || name == "websearch" {
				continue
			}
			out = append(out, domain.Tool{Name: name, Description: fn.Description, InputSchema: schema})
		}
	}
	return out
}

// EncodeRequest renders a canonical request back into Gemini wire format.
// Used only for diagnostics/tests.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest) ([]byte, error) {
	wr := wireRequest{}
	if req.SystemPrompt != "" {
		wr.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		wr.Contents = append(wr.Contents, wireContent{Role: role, Parts: []wirePart{{Text: m.Text()}}})
	}
	return json.Marshal(wr)
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason,omitempty"`
	Index        int         `json:"index"`
}

type wireUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type wireResponse struct {
	Candidates    []wireCandidate   `json:"candidates"`
	UsageMetadata wireUsageMetadata `json:"usageMetadata"`
}

// EncodeResponse renders a CanonicalResponse as a Gemini generateContent
// response object (spec §4.6 "Collect mode").
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse) ([]byte, error) {
	var parts []wirePart
	if text := resp.Message.Text(); text != "" {
		parts = append(parts, wirePart{Text: text})
	}
	for _, tc := range resp.ToolCalls {
		var args any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		parts = append(parts, wirePart{FunctionCall: &wireFunctionCall{Name: tc.Function.Name, Args: args}})
	}

	wr := wireResponse{
		Candidates: []wireCandidate{{
			Content:      wireContent{Role: "model", Parts: parts},
			FinishReason: resp.FinishReason.ToGeminiFinishReason(),
			Index:        0,
		}},
		UsageMetadata: wireUsageMetadata{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(wr)
}

var _ codec.Codec = (*Codec)(nil)
