// Package pipeline implements the Translation Pipeline (TP, spec §4.6):
// per-dialect SSE framing over the upstream client's event channel, a
// first-token retry wrapper, content deduplication, token accounting, and
// a collect mode that reassembles a single response for non-streaming
// clients.
package pipeline
