// Package codec provides shared utilities used by the per-dialect protocol
// converters (internal/codec/{openai,anthropic,gemini}).
package codec

import (
	"log/slog"
	"strings"

	"github.com/tjfontaine/kiro-gateway/internal/domain"
)

// UpstreamImage is the upstream-native image record shape (spec §4.3):
// {format: <subtype after slash>, source:{bytes: <base64>}}.
type UpstreamImage struct {
	Format string
	Bytes  string
}

// ToUpstreamImage converts a canonical image content part to the upstream
// record shape. Two inbound encodings are recognized: Anthropic-style
// base64 Source and OpenAI-style ImageURL carrying a data: URI. An
// http(s):// image URL is logged and skipped (spec §4.3), never fetched.
func ToUpstreamImage(logger *slog.Logger, part domain.ContentPart) (*UpstreamImage, bool) {
	switch part.Type {
	case domain.ContentTypeImage:
		if part.Source == nil || part.Source.Data == "" {
			return nil, false
		}
		return &UpstreamImage{
			Format: subtypeAfterSlash(part.Source.MediaType),
			Bytes:  part.Source.Data,
		}, true

	case domain.ContentTypeImageURL:
		if part.ImageURL == nil {
			return nil, false
		}
		url := part.ImageURL.URL
		if strings.HasPrefix(url, "data:") {
			mediaType, data, ok := parseDataURL(url)
			if !ok {
				return nil, false
			}
			return &UpstreamImage{Format: subtypeAfterSlash(mediaType), Bytes: data}, true
		}
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			if logger != nil {
				logger.Info("skipping http(s) image url; only data: URIs are forwarded upstream", "url", url)
			}
			return nil, false
		}
		return nil, false

	default:
		return nil, false
	}
}

// parseDataURL parses a "data:<mediaType>;base64,<data>" URI.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	content := strings.TrimPrefix(url, "data:")
	commaIdx := strings.Index(content, ",")
	if commaIdx == -1 {
		return "", "", false
	}
	meta := content[:commaIdx]
	payload := content[commaIdx+1:]

	parts := strings.Split(meta, ";")
	if len(parts) == 0 || parts[0] == "" {
		return "", "", false
	}
	isBase64 := false
	for _, p := range parts[1:] {
		if p == "base64" {
			isBase64 = true
		}
	}
	if !isBase64 {
		return "", "", false
	}
	return parts[0], payload, true
}

// subtypeAfterSlash returns the part of a MIME type after the slash
// ("image/png" -> "png"), matching the upstream's `format` field.
func subtypeAfterSlash(mediaType string) string {
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	mediaType = strings.Split(mediaType, ";")[0]
	if idx := strings.Index(mediaType, "/"); idx != -1 {
		return mediaType[idx+1:]
	}
	return mediaType
}
