package eventstream

import "testing"

func feedAll(p *Parser, chunks ...string) []Event {
	var all []Event
	for _, c := range chunks {
		all = append(all, p.Feed([]byte(c))...)
	}
	return all
}

func TestFeed_SimpleContentEvents(t *testing.T) {
	p := NewParser(nil)
	events := feedAll(p, `{"content":"Hello"}{"content":" there"}`)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Type != EventContent || events[0].Content != "Hello" {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[1].Type != EventContent || events[1].Content != " there" {
		t.Fatalf("events[1] = %+v", events[1])
	}
	if p.AssistantText() != "Hello there" {
		t.Fatalf("AssistantText() = %q", p.AssistantText())
	}
}

func TestFeed_IncompleteObjectBuffered(t *testing.T) {
	p := NewParser(nil)
	events := p.Feed([]byte(`{"content":"Hel`))
	if len(events) != 0 {
		t.Fatalf("got %d events before completion, want 0", len(events))
	}
	events = p.Feed([]byte(`lo"}`))
	if len(events) != 1 || events[0].Content != "Hello" {
		t.Fatalf("events after completion = %+v", events)
	}
}

func TestFeed_UsageAndContextUsage(t *testing.T) {
	p := NewParser(nil)
	events := feedAll(p, `{"usage":2}{"contextUsagePercentage":0.5}`)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventUsage || events[0].CreditsUsed == nil || *events[0].CreditsUsed != 2 {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[1].Type != EventContextUsage || events[1].ContextUsagePercentage == nil || *events[1].ContextUsagePercentage != 0.5 {
		t.Fatalf("events[1] = %+v", events[1])
	}
}

func TestToolCall_CombinedObjectThenStop(t *testing.T) {
	p := NewParser(nil)
	events := feedAll(p, `{"name":"get_weather","toolUseId":"t1","input":{"city":"NYC"}}{"stop":true}`)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Type != EventToolStart || events[0].Tool.Name != "get_weather" || events[0].Tool.ID != "t1" {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[1].Type != EventStop || !events[1].AnyToolCalls {
		t.Fatalf("events[1] = %+v", events[1])
	}

	final := p.Finalize()
	if len(final) != 1 {
		t.Fatalf("Finalize() = %+v, want 1 tool call", final)
	}
	if final[0].Name != "get_weather" || final[0].ID != "t1" {
		t.Fatalf("final[0] = %+v", final[0])
	}
	if final[0].Arguments != `{"city":"NYC"}` {
		t.Fatalf("final[0].Arguments = %q", final[0].Arguments)
	}
}

func TestToolCall_StreamedStringFragments(t *testing.T) {
	p := NewParser(nil)
	feedAll(p,
		`{"name":"get_weather","toolUseId":"t1"}`,
		`{"input":"{\"city\":"}`,
		`{"input":"\"NYC\"}"}`,
		`{"stop":true}`,
	)

	final := p.Finalize()
	if len(final) != 1 {
		t.Fatalf("Finalize() = %+v, want 1 tool call", final)
	}
	if final[0].Arguments != `{"city":"NYC"}` {
		t.Fatalf("final[0].Arguments = %q", final[0].Arguments)
	}
}

func TestToolCall_UnparseableArgumentsDefaultToEmptyObject(t *testing.T) {
	p := NewParser(nil)
	feedAll(p,
		`{"name":"broken_tool","toolUseId":"t2"}`,
		`{"input":"not json at all {{{"}`,
		`{"stop":true}`,
	)
	final := p.Finalize()
	if len(final) != 1 {
		t.Fatalf("Finalize() = %+v", final)
	}
	if final[0].Arguments != "{}" {
		t.Fatalf("final[0].Arguments = %q, want {}", final[0].Arguments)
	}
}

func TestToolCall_NewToolStartFinalizesPrevious(t *testing.T) {
	p := NewParser(nil)
	feedAll(p,
		`{"name":"tool_a","toolUseId":"a1","input":{"x":1}}`,
		`{"name":"tool_b","toolUseId":"b1","input":{"y":2}}`,
		`{"stop":true}`,
	)
	final := p.Finalize()
	if len(final) != 2 {
		t.Fatalf("Finalize() = %+v, want 2 tool calls", final)
	}
	if final[0].ID != "a1" || final[1].ID != "b1" {
		t.Fatalf("final = %+v", final)
	}
}

func TestBracketRecovery(t *testing.T) {
	p := NewParser(nil)
	feedAll(p, `{"content":"Sure, [Called get_weather with args: {\"city\": \"NYC\"}] one moment"}`)

	final := p.Finalize()
	if len(final) != 1 {
		t.Fatalf("Finalize() = %+v, want 1 recovered call", final)
	}
	if final[0].Name != "get_weather" {
		t.Fatalf("final[0].Name = %q", final[0].Name)
	}
}

func TestDedup_BracketRecoveryPrefersLongerArguments(t *testing.T) {
	p := NewParser(nil)
	feedAll(p, `{"content":"[Called get_weather with args: {}] [Called get_weather with args: {\"city\":\"NYC\"}]"}`)
	final := p.Finalize()

	if len(final) != 1 {
		t.Fatalf("Finalize() = %+v, want 1 deduplicated call", final)
	}
	if final[0].Arguments != `{"city":"NYC"}` {
		t.Fatalf("final[0].Arguments = %q, want the longer argument set", final[0].Arguments)
	}
}

func TestFollowupPromptEventEmitted(t *testing.T) {
	p := NewParser(nil)
	events := feedAll(p, `{"followupPrompt":"anything"}`)
	if len(events) != 1 || events[0].Type != EventFollowupPrompt {
		t.Fatalf("events = %+v", events)
	}
}
