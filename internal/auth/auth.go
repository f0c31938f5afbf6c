// Package auth validates inbound credentials against the two token shapes
// spec §6 recognizes and resolves each request to the Credential Manager
// that should mint its upstream access token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tjfontaine/kiro-gateway/internal/credential"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// Authenticator validates the configured PROXY_API_KEY and resolves a
// per-tenant Credential Manager.
type Authenticator struct {
	proxyAPIKeyHash [32]byte

	// defaultManager backs the "PROXY_API_KEY alone" shape.
	defaultManager *credential.Manager

	// cache backs the "PROXY_API_KEY:REFRESH_TOKEN" shape, keyed by
	// refresh token (spec §4.2, §6 "Multi-tenant isolation").
	cache *credential.Cache

	profileArn, region, credsFile string
}

// New constructs an Authenticator. profileArn/region/credsFile are applied
// to any Manager the Cache constructs for a refresh-token tenant.
func New(proxyAPIKey string, defaultManager *credential.Manager, cache *credential.Cache, profileArn, region, credsFile string) *Authenticator {
	return &Authenticator{
		proxyAPIKeyHash: sha256.Sum256([]byte(proxyAPIKey)),
		defaultManager:  defaultManager,
		cache:           cache,
		profileArn:      profileArn,
		region:          region,
		credsFile:       credsFile,
	}
}

// Authenticate validates raw against the two shapes spec §6 recognizes:
// `PROXY_API_KEY` alone selects the globally configured Manager;
// `PROXY_API_KEY:REFRESH_TOKEN` looks up or creates a per-tenant Manager in
// the Cache. Any other input is an AuthenticationError.
func (a *Authenticator) Authenticate(raw string) (*credential.Manager, error) {
	if raw == "" {
		return nil, domain.ErrAuthentication("missing credentials")
	}

	key, refreshToken, hasRefresh := strings.Cut(raw, ":")
	keyHash := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(keyHash[:], a.proxyAPIKeyHash[:]) != 1 {
		return nil, domain.ErrAuthentication("invalid api key")
	}

	if !hasRefresh || refreshToken == "" {
		if a.defaultManager == nil {
			return nil, domain.ErrAuthentication("no default credential configured")
		}
		return a.defaultManager, nil
	}

	mgr, err := a.cache.GetOrCreate(refreshToken, a.profileArn, a.region, a.credsFile)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindAuthentication, "failed to resolve tenant credential", err)
	}
	return mgr, nil
}

// ExtractToken pulls the raw credential value off an inbound request,
// trying each shape spec §6 lists for at least one dialect: Authorization:
// Bearer … (all three), x-api-key (Anthropic), ?key=… (Gemini).
func ExtractToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if rest, ok := strings.CutPrefix(v, "Bearer "); ok {
			return rest
		}
		return v
	}
	if v := r.Header.Get("x-api-key"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("key"); v != "" {
		return v
	}
	return ""
}
