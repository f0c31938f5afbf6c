package domain

// Role is a canonical message role (spec §3).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one element of a canonical request's message sequence.
// Content is either a plain string or an ordered sequence of typed blocks
// (text, image, tool_use, tool_result, thinking) via MessageContent.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`

	// ToolCalls holds assistant-issued tool invocations in OpenAI's flat
	// tool_calls shape; codecs project to/from this when the dialect
	// represents tool calls outside the content-block sequence.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID identifies which tool_use a role=tool message answers,
	// for dialects (OpenAI) that carry it outside the content blocks.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Text returns the message's flattened text content.
func (m Message) Text() string { return m.Content.String() }

// ToolCall is a finalized tool invocation (spec §3 "Tool-call record").
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the name and JSON-encoded arguments of a call.
// Arguments is always either a valid JSON object string or "{}" once a
// ToolCall has been finalized (spec §3 invariant).
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is the canonical (name, description, inputSchema) shape that all
// seven inbound tool shapes normalize to (spec §4.3).
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// CanonicalRequest is the gateway's internal normalized chat request
// (spec §3 "Canonical request").
type CanonicalRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Tools        []Tool    `json:"tools,omitempty"`
	ToolChoice   any       `json:"tool_choice,omitempty"`

	Stream      bool     `json:"stream"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	// TenantID identifies which PROXY_API_KEY[:REFRESH_TOKEN] pair issued
	// this request. No code sets or reads it; the server takes the
	// credential manager from the request context set by AuthMiddleware.
	TenantID string `json:"-"`

	// SourceDialect records which codec produced this request, so the
	// translation pipeline knows which dialect to render events back into.
	SourceDialect Dialect `json:"-"`
}

// Dialect identifies a client-facing wire format.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
	DialectGemini    Dialect = "gemini"
)

// Usage is canonical token accounting (spec §4.6). CreditsUsed carries the
// upstream's non-standard `usage` field verbatim (Design Note, §9) and is
// never used to derive token counts.
type Usage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	CreditsUsed      *float64 `json:"credits_used,omitempty"`
}

// CanonicalResponse is a complete (non-streaming) assistant turn.
type CanonicalResponse struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Message      Message  `json:"message"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage    `json:"usage"`
	Created      int64    `json:"created"`
}

// Model describes a catalog entry exposed via GET /v1/models (spec §6).
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// ModelList is the canonical model listing response.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
