package eventstream

import (
	"encoding/json"
	"log/slog"

	"github.com/tjfontaine/kiro-gateway/internal/jsonrepair"
)

// provisionalTool accumulates a tool call's arguments across one or more
// tool_start/tool_input events (spec §4.5 "Tool-call reassembly"). Input
// fragments are either raw JSON strings (appended as text, to be tolerantly
// parsed at finalize) or JSON objects (deep-merged as they arrive).
type provisionalTool struct {
	id   string
	name string

	textFragments string
	objectAccum   map[string]any
	sawObject     bool
	sawText       bool
}

func newProvisionalTool(id, name string) *provisionalTool {
	return &provisionalTool{id: id, name: name}
}

// appendInput merges one input fragment into the accumulated arguments.
func (t *provisionalTool) appendInput(raw json.RawMessage) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return
		}
		t.textFragments += s
		t.sawText = true
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return
		}
		if t.objectAccum == nil {
			t.objectAccum = make(map[string]any, len(m))
		}
		deepMerge(t.objectAccum, m)
		t.sawObject = true
	}
}

// deepMerge copies src into dst, recursing where both hold an object.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// finalize attempts a tolerant parse of the accumulated arguments; on
// failure, the final arguments become "{}" and a debug note is logged
// (spec §4.5).
func (t *provisionalTool) finalize(logger *slog.Logger) ToolCall {
	args := "{}"
	switch {
	case t.sawObject:
		if data, err := json.Marshal(t.objectAccum); err == nil {
			args = string(data)
		}
	case t.sawText:
		var v map[string]any
		if err := jsonrepair.Unmarshal([]byte(t.textFragments), &v); err != nil || v == nil {
			logger.Debug("eventstream: tool arguments unparseable, defaulting to {}",
				"tool", t.name, "toolUseId", t.id, "error", err)
		} else if data, err := json.Marshal(v); err == nil {
			args = string(data)
		}
	}
	return ToolCall{ID: t.id, Name: t.name, Arguments: args}
}

func trimLeadingSpace(raw json.RawMessage) json.RawMessage {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return raw[i:]
		}
	}
	return raw[i:]
}

// dedupeToolCalls implements spec §4.5 "Deduplication": group by id keeping
// the entry whose arguments JSON is longer (treating "{}" as the minimum),
// then deduplicate the whole set by (name, arguments).
func dedupeToolCalls(calls []ToolCall) []ToolCall {
	byID := make(map[string]ToolCall)
	var order []string
	for _, c := range calls {
		key := c.dedupKey()
		existing, seen := byID[key]
		if !seen {
			order = append(order, key)
			byID[key] = c
			continue
		}
		if len(c.Arguments) > len(existing.Arguments) {
			byID[key] = c
		}
	}

	seenPairs := make(map[string]bool, len(order))
	out := make([]ToolCall, 0, len(order))
	for _, key := range order {
		c := byID[key]
		pair := c.Name + "\x00" + c.Arguments
		if seenPairs[pair] {
			continue
		}
		seenPairs[pair] = true
		out = append(out, c)
	}
	return out
}

// dedupKey returns c.ID, or a name-based fallback when ID is empty
// (bracket-recovered calls never carry an id).
func (c ToolCall) dedupKey() string {
	if c.ID != "" {
		return c.ID
	}
	return "\x00name\x00" + c.Name
}
