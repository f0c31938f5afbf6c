package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/kiro-gateway/internal/auth"
	"github.com/tjfontaine/kiro-gateway/internal/credential"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	defaultMgr, err := credential.New(credential.Options{RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("credential.New() error = %v", err)
	}
	cache, err := credential.NewCache(10)
	if err != nil {
		t.Fatalf("credential.NewCache() error = %v", err)
	}
	authenticator := auth.New("sk-proxy", defaultMgr, cache, "", "", "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(0, logger, Options{Authenticator: authenticator})
}

func TestServer_Health(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServer_ChatCompletions_MissingAuth(t *testing.T) {
	s := testServer(t)
	body := strings.NewReader(`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestServer_ListModels(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-proxy")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "claude-sonnet-4-5") {
		t.Errorf("expected model catalog in body, got %s", rec.Body.String())
	}
}
