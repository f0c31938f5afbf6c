package openai

import (
	"encoding/json"
	"testing"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

func TestDecodeRequest_SimpleMessages(t *testing.T) {
	body := `{
		"model": "gpt-4o",
		"messages": [
			{"role":"system","content":"Be terse."},
			{"role":"user","content":"Hello"}
		],
		"stream": true
	}`

	c := New()
	req, err := c.DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.SystemPrompt != "Be terse." {
		t.Fatalf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Text() != "Hello" {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	if !req.Stream {
		t.Fatal("expected Stream = true")
	}
}

func TestDecodeRequest_ToolsNormalizedAndWebSearchDropped(t *testing.T) {
	body := `{
		"model": "gpt-4o",
		"messages": [{"role":"user","content":"hi"}],
		"tools": [
			{"type":"function","function":{"name":"get_weather","description":"d","parameters":{"type":"object"}}},
			{"type":"function","function":{"name":"web_search","description":"d"}}
		]
	}`

	c := New()
	req, err := c.DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "get_weather" {
		t.Fatalf("Tools = %+v", req.Tools)
	}
}

func TestDecodeRequest_MergesAdjacentSameRoleMessages(t *testing.T) {
	body := `{
		"model": "gpt-4o",
		"messages": [
			{"role":"user","content":"first"},
			{"role":"user","content":"second"}
		]
	}`
	c := New()
	req, err := c.DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected merge into 1 message, got %d", len(req.Messages))
	}
	if req.Messages[0].Text() != "first\nsecond" {
		t.Fatalf("merged text = %q", req.Messages[0].Text())
	}
}

func TestEncodeResponse_IncludesToolCalls(t *testing.T) {
	c := New()
	resp := &domain.CanonicalResponse{
		ID:           "resp1",
		Model:        "gpt-4o",
		Message:      domain.Message{Role: domain.RoleAssistant, Content: domain.NewTextContent("done")},
		ToolCalls:    []domain.ToolCall{{ID: "t1", Type: "function", Function: domain.ToolCallFunction{Name: "f", Arguments: "{}"}}},
		FinishReason: domain.FinishToolCalls,
		Usage:        domain.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}
	data, err := c.EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	var parsed wireResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("finish_reason = %q", parsed.Choices[0].FinishReason)
	}
	if len(parsed.Choices[0].Message.ToolCalls) != 1 {
		t.Fatalf("tool_calls = %+v", parsed.Choices[0].Message.ToolCalls)
	}
}
