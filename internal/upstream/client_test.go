package upstream

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/kiro-gateway/internal/credential"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

func newTestCredentialManager(t *testing.T, server *httptest.Server) *credential.Manager {
	t.Helper()
	m, err := credential.New(credential.Options{
		RefreshToken: "rt",
		Region:       "us-east-1",
	})
	if err != nil {
		t.Fatalf("credential.New() error = %v", err)
	}
	return m
}

func drain(ch <-chan domain.CanonicalEvent) []domain.CanonicalEvent {
	var events []domain.CanonicalEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStream_SimpleContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":"Hello"}{"content":" there"}{"stop":true}`))
	}))
	defer upstream.Close()

	cm := newTestCredentialManager(t, upstream)
	cm.OverrideAccessTokenForTest("test-token", time.Hour)
	cm.OverrideAPIHostForTest(upstream.URL)

	client := NewClient(cm, ClientOptions{HTTPClient: upstream.Client()})
	events, err := client.Stream(t.Context(), &domain.CanonicalRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: domain.NewTextContent("hi")}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	all := drain(events)
	var content string
	var sawDone bool
	for _, ev := range all {
		content += ev.ContentDelta
		if ev.Done {
			sawDone = true
			if ev.FinishReason != domain.FinishStop {
				t.Fatalf("FinishReason = %q, want stop", ev.FinishReason)
			}
		}
	}
	if content != "Hello there" {
		t.Fatalf("content = %q", content)
	}
	if !sawDone {
		t.Fatal("expected a Done event")
	}
}

func TestStream_ToolCallFinalization(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"get_weather","toolUseId":"t1","input":{"city":"NYC"}}{"stop":true}`))
	}))
	defer upstream.Close()

	cm := newTestCredentialManager(t, upstream)
	cm.OverrideAccessTokenForTest("test-token", time.Hour)
	cm.OverrideAPIHostForTest(upstream.URL)

	client := NewClient(cm, ClientOptions{HTTPClient: upstream.Client()})
	events, err := client.Stream(t.Context(), &domain.CanonicalRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: domain.NewTextContent("weather?")}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var toolCalls int
	var finish domain.FinishReason
	for _, ev := range drain(events) {
		if ev.ToolCall != nil {
			toolCalls++
			if ev.ToolCall.Function.Name != "get_weather" {
				t.Fatalf("tool call name = %q", ev.ToolCall.Function.Name)
			}
		}
		if ev.Done {
			finish = ev.FinishReason
		}
	}
	if toolCalls != 1 {
		t.Fatalf("toolCalls = %d, want 1", toolCalls)
	}
	if finish != domain.FinishToolCalls {
		t.Fatalf("finish = %q, want tool_calls", finish)
	}
}

func TestStream_403TriggersForceRefreshThenSucceeds(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"content":"ok"}{"stop":true}`))
	}))
	defer upstream.Close()

	refreshCalls := int32(0)
	refreshServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		_, _ = w.Write([]byte(`{"accessToken":"fresh-token","expiresIn":3600}`))
	}))
	defer refreshServer.Close()

	cm, err := credential.New(credential.Options{RefreshToken: "rt", Region: "us-east-1", HTTPClient: refreshServer.Client()})
	if err != nil {
		t.Fatalf("credential.New() error = %v", err)
	}
	cm.OverrideRefreshURLForTest(refreshServer.URL)
	cm.OverrideAccessTokenForTest("stale-token", time.Hour)
	cm.OverrideAPIHostForTest(upstream.URL)

	client := NewClient(cm, ClientOptions{HTTPClient: upstream.Client()})
	events, err := client.Stream(t.Context(), &domain.CanonicalRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: domain.NewTextContent("hi")}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	drain(events)

	if atomic.LoadInt32(&refreshCalls) != 1 {
		t.Fatalf("refreshCalls = %d, want 1", atomic.LoadInt32(&refreshCalls))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("upstream calls = %d, want 2", atomic.LoadInt32(&calls))
	}
}

func TestStream_FatalStatusReturnsError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer upstream.Close()

	cm := newTestCredentialManager(t, upstream)
	cm.OverrideAccessTokenForTest("test-token", time.Hour)
	cm.OverrideAPIHostForTest(upstream.URL)

	client := NewClient(cm, ClientOptions{HTTPClient: upstream.Client()})
	_, err := client.Stream(t.Context(), &domain.CanonicalRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: domain.NewTextContent("hi")}},
		Stream:   true,
	})
	if err == nil {
		t.Fatal("expected error for fatal 4xx status")
	}
}
