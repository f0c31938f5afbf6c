package upstream

import (
	"encoding/json"
	"log/slog"

	"github.com/tjfontaine/kiro-gateway/internal/codec"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// Origin is the fixed origin string the upstream expects on every request.
const Origin = "AI_EDITOR"

// Payload is the upstream request body (spec §3 "Upstream payload").
type Payload struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

type ConversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  HistoryEntry   `json:"currentMessage"`
	History         []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is a tagged union: exactly one of UserInputMessage /
// AssistantResponseMessage is populated.
type HistoryEntry struct {
	UserInputMessage        *UserInputMessage        `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

type UserInputMessage struct {
	Content string          `json:"content"`
	ModelID string          `json:"modelId"`
	Origin  string          `json:"origin"`
	Images  []UpstreamImage `json:"images,omitempty"`
	Context *MessageContext `json:"userInputMessageContext,omitempty"`
}

type UpstreamImage struct {
	Format string              `json:"format"`
	Source UpstreamImageSource `json:"source"`
}

type UpstreamImageSource struct {
	Bytes string `json:"bytes"`
}

type MessageContext struct {
	Tools       []codec.UpstreamToolSpec `json:"tools,omitempty"`
	ToolResults []UpstreamToolResult     `json:"toolResults,omitempty"`
}

type UpstreamToolResult struct {
	ToolUseID string                      `json:"toolUseId"`
	Content   []UpstreamToolResultContent `json:"content"`
	Status    string                      `json:"status,omitempty"`
}

type UpstreamToolResultContent struct {
	Text string `json:"text"`
}

type AssistantResponseMessage struct {
	Content  string          `json:"content"`
	ToolUses []UpstreamToolUse `json:"toolUses,omitempty"`
}

type UpstreamToolUse struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
}

// BuildPayload implements spec §4.3 "Upstream payload construction" in
// full: model-id mapping, history/current split with the "Continue"
// synthetic message, system-prompt placement, and tool/tool-result/image
// projection.
func BuildPayload(logger *slog.Logger, req *domain.CanonicalRequest, conversationID, profileArn string) Payload {
	modelID := ResolveModelID(req.Model)

	messages := req.Messages
	if len(messages) == 0 {
		messages = []domain.Message{{Role: domain.RoleUser, Content: domain.NewTextContent("Continue")}}
	}

	history := make([]HistoryEntry, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		history = append(history, toHistoryEntry(logger, m, modelID))
	}

	last := messages[len(messages)-1]
	var current UserInputMessage
	if last.Role == domain.RoleAssistant {
		history = append(history, toHistoryEntry(logger, last, modelID))
		current = UserInputMessage{Content: "Continue", ModelID: modelID, Origin: Origin}
	} else {
		current = toUserInputMessage(logger, last, modelID)
	}

	if req.SystemPrompt != "" {
		if len(history) > 0 {
			prependSystemPromptToFirstUser(history, req.SystemPrompt)
		} else {
			current.Content = req.SystemPrompt + "\n\n" + current.Content
		}
	}

	if current.Content == "" {
		current.Content = "Continue"
	}

	if len(req.Tools) > 0 {
		if current.Context == nil {
			current.Context = &MessageContext{}
		}
		for _, t := range req.Tools {
			current.Context.Tools = append(current.Context.Tools, codec.ToUpstreamToolSpec(t))
		}
	}

	return Payload{
		ConversationState: ConversationState{
			ChatTriggerType: "MANUAL",
			ConversationID:  conversationID,
			CurrentMessage:  HistoryEntry{UserInputMessage: &current},
			History:         history,
		},
		ProfileArn: profileArn,
	}
}

func prependSystemPromptToFirstUser(history []HistoryEntry, systemPrompt string) {
	for i := range history {
		if history[i].UserInputMessage != nil {
			history[i].UserInputMessage.Content = systemPrompt + "\n\n" + history[i].UserInputMessage.Content
			return
		}
	}
}

func toHistoryEntry(logger *slog.Logger, m domain.Message, modelID string) HistoryEntry {
	if m.Role == domain.RoleAssistant {
		resp := AssistantResponseMessage{Content: m.Text()}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			resp.ToolUses = append(resp.ToolUses, UpstreamToolUse{
				ToolUseID: tc.ID,
				Name:      tc.Function.Name,
				Input:     input,
			})
		}
		for _, part := range m.Content.Parts {
			if part.Type == domain.ContentTypeToolUse {
				resp.ToolUses = append(resp.ToolUses, UpstreamToolUse{ToolUseID: part.ID, Name: part.Name, Input: part.Input})
			}
		}
		return HistoryEntry{AssistantResponseMessage: &resp}
	}
	uim := toUserInputMessage(logger, m, modelID)
	return HistoryEntry{UserInputMessage: &uim}
}

func toUserInputMessage(logger *slog.Logger, m domain.Message, modelID string) UserInputMessage {
	uim := UserInputMessage{ModelID: modelID, Origin: Origin}

	var textParts []string
	var images []UpstreamImage
	var toolResults []UpstreamToolResult

	if m.Content.IsSimpleText() {
		if m.Content.Text != "" {
			textParts = append(textParts, m.Content.Text)
		}
	} else {
		for _, part := range m.Content.Parts {
			switch part.Type {
			case domain.ContentTypeText, domain.ContentTypeThinking:
				if part.Text != "" {
					textParts = append(textParts, part.Text)
				} else if part.Thinking != "" {
					textParts = append(textParts, part.Thinking)
				}
			case domain.ContentTypeImage, domain.ContentTypeImageURL:
				if img, ok := codec.ToUpstreamImage(logger, part); ok {
					images = append(images, UpstreamImage{Format: img.Format, Source: UpstreamImageSource{Bytes: img.Bytes}})
				}
			case domain.ContentTypeToolResult:
				status := "success"
				if part.IsError {
					status = "error"
				}
				toolResults = append(toolResults, UpstreamToolResult{
					ToolUseID: part.ToolUseID,
					Content:   []UpstreamToolResultContent{{Text: part.Content}},
					Status:    status,
				})
			}
		}
	}

	for i, t := range textParts {
		if i > 0 {
			uim.Content += "\n"
		}
		uim.Content += t
	}
	uim.Images = images
	if len(toolResults) > 0 {
		uim.Context = &MessageContext{ToolResults: toolResults}
	}
	return uim
}
