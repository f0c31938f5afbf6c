package upstream

import (
	"context"
	"strings"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// modelMapEntry is one row of the fixed external-id -> upstream-id table
// (spec §6 "Model catalog"). Prefix is matched against the external model
// id; the first matching row wins.
type modelMapEntry struct {
	prefix     string
	exact      bool
	upstreamID string
}

var modelCatalog = []modelMapEntry{
	{prefix: "auto", exact: true, upstreamID: "claude-sonnet-4.5"},
	{prefix: "claude-3-7-sonnet-20250219", exact: true, upstreamID: "CLAUDE_3_7_SONNET_20250219_V1_0"},
	{prefix: "claude-opus-4-5", upstreamID: "claude-opus-4.5"},
	{prefix: "claude-sonnet-4-5", upstreamID: "CLAUDE_SONNET_4_5_20250929_V1_0"},
	{prefix: "claude-sonnet-4", upstreamID: "CLAUDE_SONNET_4_20250514_V1_0"},
	{prefix: "claude-haiku-4-5", upstreamID: "claude-haiku-4.5"},
}

// ResolveModelID maps an external model id to its internal upstream id.
// Unknown external names pass through unchanged (spec §6 boundary
// behavior).
func ResolveModelID(external string) string {
	for _, entry := range modelCatalog {
		if entry.exact {
			if external == entry.prefix {
				return entry.upstreamID
			}
			continue
		}
		if strings.HasPrefix(external, entry.prefix) {
			return entry.upstreamID
		}
	}
	return external
}

// slowModels is the fixed SLOW set (spec §4.4): models whose name contains
// any of these substrings get their base timeout multiplied.
var slowModels = []string{
	"claude-opus-4-5",
	"claude-opus-4.5",
	"claude-3-opus",
}

// IsSlowModel reports whether model matches the fixed SLOW set.
func IsSlowModel(model string) bool {
	for _, slow := range slowModels {
		if strings.Contains(model, slow) {
			return true
		}
	}
	return false
}

// Catalog is the static GET /v1/models listing (spec §6, SPEC_FULL §C.1).
var Catalog = []struct {
	ID      string
	OwnedBy string
}{
	{ID: "claude-opus-4-5", OwnedBy: "anthropic"},
	{ID: "claude-sonnet-4-5", OwnedBy: "anthropic"},
	{ID: "claude-sonnet-4", OwnedBy: "anthropic"},
	{ID: "claude-haiku-4-5", OwnedBy: "anthropic"},
	{ID: "claude-3-7-sonnet-20250219", OwnedBy: "anthropic"},
	{ID: "auto", OwnedBy: "anthropic"},
}

// ListModels implements domain.Upstream: a static catalog, never an upstream
// call (spec §6 "Model catalog").
func (c *Client) ListModels(ctx context.Context) (*domain.ModelList, error) {
	list := &domain.ModelList{Object: "list"}
	for _, m := range Catalog {
		list.Data = append(list.Data, domain.Model{ID: m.ID, Object: "model", OwnedBy: m.OwnedBy})
	}
	return list, nil
}
