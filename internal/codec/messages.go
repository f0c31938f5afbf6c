package codec

import "github.com/tjfontaine/kiro-gateway/internal/domain"

// CanonicalizeMessages implements spec §4.3 "Message canonicalization":
// (a) tool-role messages are promoted to synthetic user messages containing
// tool_result blocks, grouping consecutive tool messages into one; (b)
// adjacent messages of the same role are then merged. System messages are
// expected to have already been separated out by the caller (they never
// reach this function as domain.RoleSystem entries).
func CanonicalizeMessages(messages []domain.Message) []domain.Message {
	promoted := promoteToolMessages(messages)
	return mergeAdjacent(promoted)
}

// promoteToolMessages turns each run of consecutive role=tool messages into
// a single synthesized user message whose content is the sequence of
// tool_result blocks.
func promoteToolMessages(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	i := 0
	for i < len(messages) {
		if messages[i].Role != domain.RoleTool {
			out = append(out, messages[i])
			i++
			continue
		}
		var parts []domain.ContentPart
		for i < len(messages) && messages[i].Role == domain.RoleTool {
			m := messages[i]
			parts = append(parts, domain.ToolResultPart(m.ToolCallID, m.Text(), false))
			i++
		}
		out = append(out, domain.Message{
			Role:    domain.RoleUser,
			Content: domain.NewMultipartContent(parts...),
		})
	}
	return out
}

// mergeAdjacent merges adjacent same-role messages: string+string content is
// newline-joined, array+array is concatenated, mixed becomes an array.
// Assistant tool_calls arrays are concatenated on merge.
func mergeAdjacent(messages []domain.Message) []domain.Message {
	if len(messages) <= 1 {
		return messages
	}
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if len(out) == 0 {
			out = append(out, m)
			continue
		}
		last := &out[len(out)-1]
		if last.Role != m.Role {
			out = append(out, m)
			continue
		}
		last.Content = mergeContent(last.Content, m.Content)
		if last.Role == domain.RoleAssistant {
			last.ToolCalls = append(last.ToolCalls, m.ToolCalls...)
		}
	}
	return out
}

// mergeContent merges two MessageContent values per spec §4.3: string+string
// joins with a newline, array+array concatenates, and a string/array mix is
// promoted to an array by wrapping the string side as a single text block.
func mergeContent(a, b domain.MessageContent) domain.MessageContent {
	if a.IsSimpleText() && b.IsSimpleText() {
		return domain.NewTextContent(a.Text + "\n" + b.Text)
	}

	aParts := a.Parts
	if a.IsSimpleText() {
		if a.Text != "" {
			aParts = []domain.ContentPart{domain.TextPart(a.Text)}
		}
	}
	bParts := b.Parts
	if b.IsSimpleText() {
		if b.Text != "" {
			bParts = []domain.ContentPart{domain.TextPart(b.Text)}
		}
	}
	merged := make([]domain.ContentPart, 0, len(aParts)+len(bParts))
	merged = append(merged, aParts...)
	merged = append(merged, bParts...)
	return domain.NewMultipartContent(merged...)
}

// ExtractSystemPrompt separates system-role messages out of a message
// sequence, concatenating their text content with newlines (spec §4.3a).
// Returns the remaining non-system messages and the combined system text.
func ExtractSystemPrompt(messages []domain.Message) (remaining []domain.Message, systemPrompt string) {
	remaining = make([]domain.Message, 0, len(messages))
	var parts []string
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if text := m.Text(); text != "" {
				parts = append(parts, text)
			}
			continue
		}
		remaining = append(remaining, m)
	}
	for i, p := range parts {
		if i > 0 {
			systemPrompt += "\n"
		}
		systemPrompt += p
	}
	return remaining, systemPrompt
}
