package codec

import "github.com/tjfontaine/kiro-gateway/internal/domain"

// Codec handles bidirectional conversion between one dialect's wire format
// and the canonical shapes (spec §4.3 "Protocol Converters").
//
//	Frontdoor receives request  -> Codec.DecodeRequest  -> CanonicalRequest
//	CanonicalResponse           -> Codec.EncodeResponse  -> dialect response
//	CanonicalEvent (from TP)    -> internal/pipeline StreamTo* writers -> SSE payload
type Codec interface {
	Name() domain.Dialect

	DecodeRequest(data []byte) (*domain.CanonicalRequest, error)
	EncodeRequest(req *domain.CanonicalRequest) ([]byte, error)

	EncodeResponse(resp *domain.CanonicalResponse) ([]byte, error)
}
