// Package credential implements the Credential Manager and Credential
// Cache (spec §4.1, §4.2): refresh-token-based access-token issuance with
// single-flight refresh, and a bounded per-tenant LRU of managers.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRegion         = "us-east-1"
	defaultExpirySeconds  = 3600
	expirySkew            = 60 * time.Second
	defaultRefreshRetries  = 3
	defaultBaseRetryDelay = 1 * time.Second
)

// refreshURLTemplate, apiHostTemplate and qHostTemplate are the per-region
// endpoint templates (spec §4.1).
const (
	refreshURLTemplate = "https://prod.%s.auth.desktop.kiro.dev/refreshToken"
	apiHostTemplate     = "https://codewhisperer.%s.amazonaws.com"
	qHostTemplate       = "https://q.%s.amazonaws.com"
)

// Options configures a new Manager.
type Options struct {
	RefreshToken string
	ProfileArn   string
	Region       string

	// CredsFile is either a local filesystem path (loaded at construction,
	// persisted after every successful refresh) or an http(s):// URL
	// (fetched once at construction, never persisted back).
	CredsFile string

	RefreshThreshold time.Duration // default token-refresh margin
	MaxRetries       int
	BaseRetryDelay   time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Manager is the Credential Manager (CM, spec §4.1).
type Manager struct {
	mu sync.RWMutex

	refreshToken string
	accessToken  string
	expiresAt    time.Time
	profileArn   string
	region       string

	threshold      time.Duration
	maxRetries     int
	baseRetryDelay time.Duration
	credsFile      string
	credsURL       string

	fingerprint string
	httpClient  *http.Client
	logger      *slog.Logger

	group singleflight.Group

	// refreshURLOverride and apiHostOverride replace the computed endpoints;
	// used only by tests to point at an httptest server.
	refreshURLOverride string
	apiHostOverride    string
}

// OverrideRefreshURLForTest replaces the computed refresh endpoint. Test-only.
func (m *Manager) OverrideRefreshURLForTest(url string) { m.refreshURLOverride = url }

// OverrideAPIHostForTest replaces the computed API host. Test-only.
func (m *Manager) OverrideAPIHostForTest(host string) { m.apiHostOverride = host }

// OverrideAccessTokenForTest seeds a cached access token with the given
// time-to-live, bypassing the refresh flow entirely. Test-only.
func (m *Manager) OverrideAccessTokenForTest(token string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = token
	m.expiresAt = time.Now().Add(ttl)
}

// New constructs a Manager. If opts.CredsFile is set, credentials are loaded
// from it (or from a remote URL) before the first use.
func New(opts Options) (*Manager, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	threshold := opts.RefreshThreshold
	if threshold <= 0 {
		threshold = 30 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultRefreshRetries
	}
	baseDelay := opts.BaseRetryDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseRetryDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		refreshToken:   opts.RefreshToken,
		profileArn:     opts.ProfileArn,
		region:         region,
		threshold:      threshold,
		maxRetries:     maxRetries,
		baseRetryDelay: baseDelay,
		fingerprint:    computeFingerprint(),
		httpClient:     httpClient,
		logger:         logger,
	}

	if opts.CredsFile != "" {
		if strings.HasPrefix(opts.CredsFile, "http://") || strings.HasPrefix(opts.CredsFile, "https://") {
			m.credsURL = opts.CredsFile
			if err := m.loadFromURL(context.Background()); err != nil {
				return nil, fmt.Errorf("loading credentials from %s: %w", opts.CredsFile, err)
			}
		} else {
			m.credsFile = opts.CredsFile
			if err := m.loadFromFile(); err != nil {
				return nil, fmt.Errorf("loading credentials file %s: %w", opts.CredsFile, err)
			}
		}
	}

	return m, nil
}

func (m *Manager) Region() string     { return m.region }
func (m *Manager) ProfileArn() string { m.mu.RLock(); defer m.mu.RUnlock(); return m.profileArn }
func (m *Manager) Fingerprint() string { return m.fingerprint }
func (m *Manager) APIHost() string {
	if m.apiHostOverride != "" {
		return m.apiHostOverride
	}
	return fmt.Sprintf(apiHostTemplate, m.region)
}
func (m *Manager) QHost() string { return fmt.Sprintf(qHostTemplate, m.region) }
func (m *Manager) refreshURL() string {
	if m.refreshURLOverride != "" {
		return m.refreshURLOverride
	}
	return fmt.Sprintf(refreshURLTemplate, m.region)
}

// UserAgent returns the fingerprint-suffixed outbound user-agent string.
func (m *Manager) UserAgent() string {
	return fmt.Sprintf("aws-sdk-go2-kiro-gateway/1.0 (fp/%s)", m.fingerprint)
}

// GetAccessToken implements the CM contract (spec §4.1): return the cached
// token while it is outside threshold of expiry; otherwise refresh, joining
// a refresh already in flight. A caller whose cached token is still valid
// gets that token at once, without waiting for a forced refresh in flight.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	if token, ok := m.currentToken(); ok {
		return token, nil
	}
	return m.refreshAndReturn(ctx, false)
}

// ForceRefresh bypasses the expiry check but still obeys the single-flight
// guard (spec §4.1), used when the upstream client observes HTTP 403.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refreshAndReturn(ctx, true)
}

func (m *Manager) currentToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.accessToken == "" {
		return "", false
	}
	if time.Now().Add(m.threshold).Before(m.expiresAt) {
		return m.accessToken, true
	}
	return "", false
}

func (m *Manager) refreshAndReturn(ctx context.Context, force bool) (string, error) {
	m.mu.RLock()
	refreshToken := m.refreshToken
	m.mu.RUnlock()
	if refreshToken == "" {
		return "", domain.ErrTokenRefresh("no refresh token configured")
	}

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		// Re-check: another goroutine may have refreshed while we were
		// waiting to enter Do (the leader completed just before we
		// joined, or this call raced a concurrent currentToken() miss).
		// A forced refresh skips this check.
		if !force {
			if token, ok := m.currentToken(); ok {
				return token, nil
			}
		}
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// doRefresh executes the POST {refreshToken} refresh call with retry
// (spec §4.1 "Refresh algorithm").
func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	refreshToken := m.refreshToken
	m.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			delay := m.baseRetryDelay * time.Duration(1<<uint(attempt-1))
			m.logger.Debug("credential refresh retry", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, status, err := m.postRefresh(ctx, refreshToken)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusOK {
			m.applyRefreshResponse(resp)
			m.persist()
			return resp.AccessToken, nil
		}
		if isRetriableStatus(status) {
			lastErr = fmt.Errorf("refresh returned retriable status %d", status)
			continue
		}
		return "", domain.ErrTokenRefresh(fmt.Sprintf("refresh failed with status %d", status))
	}
	return "", domain.WrapError(domain.ErrorKindTokenRefresh, "refresh retries exhausted", lastErr)
}

func isRetriableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (m *Manager) postRefresh(ctx context.Context, refreshToken string) (*refreshResponse, int, error) {
	body, _ := json.Marshal(map[string]string{"refreshToken": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL(), strings.NewReader(string(body)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", m.UserAgent())

	httpResp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode, nil
	}
	var parsed refreshResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decoding refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, httpResp.StatusCode, fmt.Errorf("refresh response missing accessToken")
	}
	return &parsed, httpResp.StatusCode, nil
}

func (m *Manager) applyRefreshResponse(resp *refreshResponse) {
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySeconds
	}

	m.mu.Lock()
	m.accessToken = resp.AccessToken
	m.expiresAt = time.Now().Add(time.Duration(expiresIn)*time.Second - expirySkew)
	if resp.RefreshToken != "" {
		m.refreshToken = resp.RefreshToken
	}
	if resp.ProfileArn != "" {
		m.profileArn = resp.ProfileArn
	}
	m.mu.Unlock()
}
