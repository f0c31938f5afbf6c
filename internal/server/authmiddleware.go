package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/kiro-gateway/internal/auth"
	"github.com/tjfontaine/kiro-gateway/internal/credential"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// managerContextKey is the context key the resolved per-tenant Credential
// Manager is stored under after AuthMiddleware runs.
type managerContextKey struct{}

// AuthMiddleware validates the inbound credential (spec §6 "Auth token
// formats") and injects the resolved Credential Manager into the request
// context. errorWriter renders the failure in the caller's dialect.
func AuthMiddleware(authenticator *auth.Authenticator, errorWriter func(http.ResponseWriter, *domain.GatewayError)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mgr, err := authenticator.Authenticate(auth.ExtractToken(r))
			if err != nil {
				gwErr, ok := err.(*domain.GatewayError)
				if !ok {
					gwErr = domain.ErrAuthentication(err.Error())
				}
				errorWriter(w, gwErr)
				return
			}
			ctx := context.WithValue(r.Context(), managerContextKey{}, mgr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetManager retrieves the Credential Manager AuthMiddleware resolved for
// this request. Returns nil if no Manager is set.
func GetManager(ctx context.Context) *credential.Manager {
	m, _ := ctx.Value(managerContextKey{}).(*credential.Manager)
	return m
}

func writeJSONError(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteOpenAIError renders a GatewayError in the OpenAI error shape (spec §7).
func WriteOpenAIError(w http.ResponseWriter, err *domain.GatewayError) {
	writeJSONError(w, err.HTTPStatus(), err.ToOpenAI())
}

// WriteAnthropicError renders a GatewayError in the Anthropic error shape.
func WriteAnthropicError(w http.ResponseWriter, err *domain.GatewayError) {
	writeJSONError(w, err.HTTPStatus(), err.ToAnthropic())
}

// WriteGeminiError renders a GatewayError in the Gemini error shape.
func WriteGeminiError(w http.ResponseWriter, err *domain.GatewayError) {
	writeJSONError(w, err.HTTPStatus(), err.ToGemini())
}
