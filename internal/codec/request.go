package codec

import "github.com/tjfontaine/kiro-gateway/internal/domain"

// Finalize runs the dialect-agnostic half of request normalization (spec
// §4.3) once a per-dialect Codec.DecodeRequest has produced a
// CanonicalRequest with raw (pre-merge) messages and normalized tools:
// separate and concatenate system messages, canonicalize the remaining
// message sequence (tool-message promotion + adjacent-role merge), and
// extract any over-length tool description into the system prompt.
func Finalize(req *domain.CanonicalRequest, toolDescriptionMaxLength int) *domain.CanonicalRequest {
	remaining, systemPrompt := ExtractSystemPrompt(req.Messages)
	if req.SystemPrompt != "" {
		if systemPrompt != "" {
			systemPrompt = req.SystemPrompt + "\n" + systemPrompt
		} else {
			systemPrompt = req.SystemPrompt
		}
	}
	req.Messages = CanonicalizeMessages(remaining)

	tools, systemPrompt := ExtractLongToolDescriptions(req.Tools, systemPrompt, toolDescriptionMaxLength)
	req.Tools = tools
	req.SystemPrompt = systemPrompt
	return req
}
