// Package eventstream implements the Event Stream Parser (ESP, spec §4.5):
// a pattern-driven incremental extractor of typed JSON events from the
// upstream's byte stream, tool-call fragment reassembly, bracket-form tool
// recovery, and deduplication. One Parser is owned by exactly one request.
package eventstream

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// EventType identifies one of the typed events ESP extracts from the
// upstream byte stream.
type EventType string

const (
	EventContent        EventType = "content"
	EventToolStart       EventType = "tool_start"
	EventToolStop        EventType = "tool_stop"
	EventStop            EventType = "stop"
	EventFollowupPrompt  EventType = "followup_prompt"
	EventUsage           EventType = "usage"
	EventContextUsage    EventType = "context_usage"
)

// ToolCall is a finalized tool invocation recovered from the stream.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // serialized JSON, always a parseable object (possibly "{}")
}

// Event is one unit of parsed output from Feed/Finalize.
type Event struct {
	Type EventType

	Content string // EventContent
	Tool    *ToolCall // EventToolStart (provisional, Arguments may be partial)

	CreditsUsed            *float64 // EventUsage
	ContextUsagePercentage *float64 // EventContextUsage

	AnyToolCalls bool // EventStop: whether any tool call occurred this turn
}

// recognizedPrefixes is the fixed set of JSON-object prefixes ESP searches
// for (spec §4.5). Order matters only in that longer/more-specific prefixes
// must not be shadowed by shorter ones; these seven are mutually exclusive
// by construction.
var recognizedPrefixes = []string{
	`{"content":`,
	`{"name":`,
	`{"input":`,
	`{"stop":`,
	`{"followupPrompt":`,
	`{"usage":`,
	`{"contextUsagePercentage":`,
}

// Parser is the Event Stream Parser. Not safe for concurrent use; it is
// single-owner per request (spec §5 "Shared state").
type Parser struct {
	logger *slog.Logger

	buf []byte

	provisional *provisionalTool
	finalTools  []ToolCall
	sawToolCall bool

	textBuilder strings.Builder
}

// NewParser constructs a Parser. logger may be nil, in which case
// slog.Default() is used for the debug-level repair-failure notes.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Feed appends chunk to the internal buffer and extracts every complete
// recognized JSON object currently available, returning the events in
// encounter order. Incomplete trailing JSON remains buffered for the next
// Feed call.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		start, prefix, ok := findNextPrefix(p.buf)
		if !ok {
			break
		}
		end, ok := matchClosingBrace(p.buf, start)
		if !ok {
			// Incomplete object at the tail; wait for more data. Any bytes
			// before start that aren't part of a recognized object are
			// noise (binary framing) and can be dropped now.
			if start > 0 {
				p.buf = p.buf[start:]
			}
			break
		}

		object := p.buf[start:end]
		p.buf = append([]byte{}, p.buf[end:]...)

		if ev, ok := p.handleObject(prefix, object); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Finalize flushes the provisional tool call (if any remains open without
// an explicit stop), runs bracket-form recovery over the accumulated
// assistant text, deduplicates the resulting tool-call set, and returns it.
// Call once, after the upstream stream has ended.
func (p *Parser) Finalize() []ToolCall {
	if p.provisional != nil {
		p.finalTools = append(p.finalTools, p.provisional.finalize(p.logger))
		p.provisional = nil
	}

	recovered := recoverBracketToolCalls(p.textBuilder.String())
	all := append(append([]ToolCall{}, p.finalTools...), recovered...)
	return dedupeToolCalls(all)
}

// AssistantText returns the concatenated content emitted so far.
func (p *Parser) AssistantText() string { return p.textBuilder.String() }

func (p *Parser) handleObject(prefix string, object []byte) (Event, bool) {
	switch prefix {
	case `{"content":`:
		var v struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(object, &v); err != nil {
			p.logger.Debug("eventstream: failed to parse content event", "error", err)
			return Event{}, false
		}
		p.textBuilder.WriteString(v.Content)
		return Event{Type: EventContent, Content: v.Content}, true

	case `{"name":`:
		var v struct {
			Name      string          `json:"name"`
			ToolUseID string          `json:"toolUseId"`
			Input     json.RawMessage `json:"input,omitempty"`
		}
		if err := json.Unmarshal(object, &v); err != nil {
			p.logger.Debug("eventstream: failed to parse tool_start event", "error", err)
			return Event{}, false
		}
		p.sawToolCall = true

		if p.provisional != nil {
			// An unstopped prior tool call is finalized by the next
			// tool_start, per spec §4.5.
			p.finalTools = append(p.finalTools, p.provisional.finalize(p.logger))
		}
		p.provisional = newProvisionalTool(v.ToolUseID, v.Name)
		if len(v.Input) > 0 {
			p.provisional.appendInput(v.Input)
		}
		return Event{Type: EventToolStart, Tool: &ToolCall{ID: v.ToolUseID, Name: v.Name}}, true

	case `{"input":`:
		var v struct {
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(object, &v); err != nil {
			p.logger.Debug("eventstream: failed to parse tool_input event", "error", err)
			return Event{}, false
		}
		if p.provisional != nil {
			p.provisional.appendInput(v.Input)
		}
		return Event{}, false

	case `{"stop":`:
		if p.provisional != nil {
			finished := p.provisional.finalize(p.logger)
			p.finalTools = append(p.finalTools, finished)
			p.provisional = nil
			return Event{Type: EventStop, AnyToolCalls: true}, true
		}
		return Event{Type: EventStop, AnyToolCalls: p.sawToolCall}, true

	case `{"followupPrompt":`:
		return Event{Type: EventFollowupPrompt}, true

	case `{"usage":`:
		var v struct {
			CreditsUsed *float64 `json:"usage"`
		}
		if err := json.Unmarshal(object, &v); err != nil {
			p.logger.Debug("eventstream: failed to parse usage event", "error", err)
			return Event{}, false
		}
		return Event{Type: EventUsage, CreditsUsed: v.CreditsUsed}, true

	case `{"contextUsagePercentage":`:
		var v struct {
			Pct *float64 `json:"contextUsagePercentage"`
		}
		if err := json.Unmarshal(object, &v); err != nil {
			p.logger.Debug("eventstream: failed to parse contextUsagePercentage event", "error", err)
			return Event{}, false
		}
		return Event{Type: EventContextUsage, ContextUsagePercentage: v.Pct}, true
	}
	return Event{}, false
}

// findNextPrefix returns the earliest occurrence in buf of any recognized
// prefix, and which prefix matched.
func findNextPrefix(buf []byte) (index int, prefix string, ok bool) {
	best := -1
	var bestPrefix string
	s := string(buf)
	for _, p := range recognizedPrefixes {
		if idx := strings.Index(s, p); idx >= 0 {
			if best == -1 || idx < best {
				best = idx
				bestPrefix = p
			}
		}
	}
	if best == -1 {
		return 0, "", false
	}
	return best, bestPrefix, true
}

// matchClosingBrace finds the index one past the closing '}' matching the
// '{' at buf[start], using a string-aware, escape-aware depth counter.
// Returns ok=false if the buffer ends before the object closes.
func matchClosingBrace(buf []byte, start int) (end int, ok bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(buf); i++ {
		c := buf[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
