package codec

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// DefaultToolDescriptionMaxLength is the default threshold (spec §4.3,
// configurable via TOOL_DESCRIPTION_MAX_LENGTH). ExtractLongToolDescriptions
// skips extraction when called with maxLength <= 0, but each dialect codec's
// NewWithToolDescriptionMaxLength replaces a non-positive value with this
// default, so a configured 0 does not disable extraction.
const DefaultToolDescriptionMaxLength = 10000

// ExtractLongToolDescriptions implements spec §4.3 "Long-description
// extraction": any tool whose description exceeds maxLength has its
// description replaced by a cross-reference marker, and the full text is
// appended to the system prompt under a "## Tool: <name>" heading. Returns
// the (possibly rewritten) tools and the (possibly extended) system prompt.
func ExtractLongToolDescriptions(tools []domain.Tool, systemPrompt string, maxLength int) ([]domain.Tool, string) {
	if maxLength <= 0 {
		return tools, systemPrompt
	}

	var docs []string
	out := make([]domain.Tool, len(tools))
	copy(out, tools)

	for i, t := range out {
		if len(t.Description) <= maxLength {
			continue
		}
		docs = append(docs, fmt.Sprintf("## Tool: %s\n%s", t.Name, t.Description))
		out[i].Description = fmt.Sprintf("See full documentation for %s in the system prompt.", t.Name)
	}

	if len(docs) == 0 {
		return out, systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n---\n# Tool Documentation\n")
	b.WriteString(strings.Join(docs, "\n\n"))
	return out, b.String()
}
