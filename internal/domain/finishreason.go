package domain

// FinishReason is the canonical stop-reason, translated per dialect at the
// codec boundary (spec §4.6 "Stop-reason mapping").
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// OpenAI finish_reason strings are identical to the canonical ones above.

// ToAnthropicStopReason maps a canonical finish reason to Anthropic's
// stop_reason vocabulary.
func (f FinishReason) ToAnthropicStopReason() string {
	switch f {
	case FinishToolCalls:
		return "tool_use"
	case FinishLength:
		return "max_tokens"
	case FinishStop:
		return "end_turn"
	default:
		return "end_turn"
	}
}

// FinishReasonFromAnthropic maps an Anthropic stop_reason to the canonical
// finish reason.
func FinishReasonFromAnthropic(stopReason string) FinishReason {
	switch stopReason {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "stop_sequence", "end_turn":
		return FinishStop
	default:
		return FinishStop
	}
}

// ToGeminiFinishReason maps a canonical finish reason to Gemini's
// finishReason vocabulary.
func (f FinishReason) ToGeminiFinishReason() string {
	switch f {
	case FinishLength:
		return "MAX_TOKENS"
	case FinishToolCalls:
		return "STOP"
	case FinishError:
		return "SAFETY"
	default:
		return "STOP"
	}
}
