package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tjfontaine/kiro-gateway/internal/pkg/safehttp"
)

// credsFileFormat is the on-disk/remote credentials document shape, shared
// with the upstream desktop client's own credentials cache file.
type credsFileFormat struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ProfileArn   string `json:"profileArn,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

func (m *Manager) loadFromFile() error {
	data, err := os.ReadFile(m.credsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return m.applyCredsFile(data)
}

func (m *Manager) loadFromURL(ctx context.Context) error {
	client := &http.Client{
		Timeout:   15 * time.Second,
		Transport: safehttp.SafeTransport,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.credsURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching credentials from %s: status %d", m.credsURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return m.applyCredsFile(data)
}

func (m *Manager) applyCredsFile(data []byte) error {
	var parsed credsFileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parsing credentials document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if parsed.RefreshToken != "" {
		m.refreshToken = parsed.RefreshToken
	}
	if parsed.ProfileArn != "" {
		m.profileArn = parsed.ProfileArn
	}
	if parsed.AccessToken != "" {
		m.accessToken = parsed.AccessToken
		if parsed.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, parsed.ExpiresAt); err == nil {
				m.expiresAt = t
			}
		}
	}
	return nil
}

// persist writes the current credential state back to credsFile, atomically
// via write-temp-then-rename. A no-op when the manager was not configured
// with a local credentials file (credsURL sources are fetched once and
// never written back, spec §4.1).
func (m *Manager) persist() {
	if m.credsFile == "" {
		return
	}

	m.mu.RLock()
	doc := credsFileFormat{
		AccessToken:  m.accessToken,
		RefreshToken: m.refreshToken,
		ProfileArn:   m.profileArn,
		ExpiresAt:    m.expiresAt.Format(time.RFC3339),
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		m.logger.Warn("failed to marshal credentials for persistence", "error", err)
		return
	}

	dir := filepath.Dir(m.credsFile)
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		m.logger.Warn("failed to create temp credentials file", "error", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		m.logger.Warn("failed to write temp credentials file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		m.logger.Warn("failed to close temp credentials file", "error", err)
		return
	}
	if err := os.Rename(tmpName, m.credsFile); err != nil {
		os.Remove(tmpName)
		m.logger.Warn("failed to rename temp credentials file", "error", err)
	}
}
