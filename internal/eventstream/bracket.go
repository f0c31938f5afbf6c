package eventstream

import (
	"strings"

	"github.com/tjfontaine/kiro-gateway/internal/jsonrepair"
)

const bracketMarker = "[Called "

// recoverBracketToolCalls implements spec §4.5 "Bracket-form recovery":
// scan text for "[Called <name> with args: {...}]" patterns where the JSON
// body's opening "{" falls within a small lookahead after the colon and its
// matching "}" is immediately followed by "]".
func recoverBracketToolCalls(text string) []ToolCall {
	var out []ToolCall
	pos := 0
	for {
		idx := strings.Index(text[pos:], bracketMarker)
		if idx < 0 {
			break
		}
		start := pos + idx
		call, next, ok := parseBracketCall(text, start)
		if !ok {
			pos = start + len(bracketMarker)
			continue
		}
		out = append(out, call)
		pos = next
	}
	return out
}

const bracketArgsLookahead = 10

// parseBracketCall attempts to parse one "[Called <name> with args: {...}]"
// occurrence starting at start (the index of "["). It returns the parsed
// call, the index to resume scanning from, and whether a call was found.
func parseBracketCall(text string, start int) (ToolCall, int, bool) {
	const withArgs = " with args: "
	rest := text[start+len(bracketMarker):]

	sep := strings.Index(rest, withArgs)
	if sep < 0 {
		return ToolCall{}, 0, false
	}
	name := strings.TrimSpace(rest[:sep])
	if name == "" {
		return ToolCall{}, 0, false
	}

	afterColon := rest[sep+len(withArgs):]
	braceStart := strings.IndexByte(afterColon, '{')
	if braceStart < 0 || braceStart > bracketArgsLookahead {
		return ToolCall{}, 0, false
	}

	braceEnd, ok := matchClosingBrace([]byte(afterColon), braceStart)
	if !ok {
		return ToolCall{}, 0, false
	}
	if braceEnd >= len(afterColon) || afterColon[braceEnd] != ']' {
		return ToolCall{}, 0, false
	}

	argsText := afterColon[braceStart:braceEnd]
	args := "{}"
	if repaired, ok := jsonrepair.Repair(argsText); ok {
		args = repaired
	}

	absoluteEnd := start + len(bracketMarker) + sep + len(withArgs) + braceEnd + 1
	return ToolCall{Name: name, Arguments: args}, absoluteEnd, true
}
