package gemini

import (
	"encoding/json"
	"testing"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

func TestDecodeRequest_SystemInstructionAndRoles(t *testing.T) {
	body := `{
		"systemInstruction": {"parts":[{"text":"Be terse."}]},
		"contents": [
			{"role":"user","parts":[{"text":"hi"}]},
			{"role":"model","parts":[{"text":"hello"}]}
		]
	}`
	c := New()
	req, err := c.DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.SystemPrompt != "Be terse." {
		t.Fatalf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	if req.Messages[0].Role != domain.RoleUser || req.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("roles = %q, %q", req.Messages[0].Role, req.Messages[1].Role)
	}
}

func TestDecodeRequest_FunctionCallAndResponse(t *testing.T) {
	body := `{
		"contents": [
			{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"NYC"}}}]},
			{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"temp":70}}}]}
		]
	}`
	c := New()
	req, err := c.DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	if len(req.Messages[0].ToolCalls) != 1 || req.Messages[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("tool call message = %+v", req.Messages[0])
	}
	if req.Messages[1].Role != domain.RoleUser {
		t.Fatalf("expected promoted user tool_result message, got %+v", req.Messages[1])
	}
	if p := req.Messages[1].Content.Parts; len(p) != 1 || p[0].Type != domain.ContentTypeToolResult || p[0].ToolUseID != "get_weather" {
		t.Fatalf("promoted tool_result part = %+v", p)
	}
}

func TestDecodeRequest_FunctionDeclarationsFlattenedAndWebSearchDropped(t *testing.T) {
	body := `{
		"contents": [{"role":"user","parts":[{"text":"hi"}]}],
		"tools": [{"functionDeclarations":[
			{"name":"get_weather","description":"d","parameters":{"type":"object"}},
			{"name":"websearch","description":"d"}
		]}]
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

func TestEncodeResponse_TextAndFunctionCall(t *testing.T) {
	c := New()
	resp := &domain.CanonicalResponse{
		Model:        "gemini-pro",
		Message:      domain.Message{Role: domain.RoleAssistant, Content: domain.NewTextContent("hi")},
		ToolCalls:    []domain.ToolCall{{Function: domain.ToolCallFunction{Name: "f", Arguments: `{"a":1}`}}},
		FinishReason: domain.FinishToolCalls,
	}
	data, err := c.EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	var parsed wireResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Candidates[0].FinishReason != "STOP" {
		t.Fatalf("finishReason = %q", parsed.Candidates[0].FinishReason)
	}
	if len(parsed.Candidates[0].Content.Parts) != 2 {
		t.Fatalf("parts = %+v", parsed.Candidates[0].Content.Parts)
	}
}
