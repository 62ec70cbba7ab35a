// Package v1 holds the wire types of the operational HTTP API.
package v1

import (
	"time"

	"github.com/halcyon-labs/edgelink/internal/bus"
)

// HealthResponse reports store reachability and breaker state.
type HealthResponse struct {
	Status  string           `json:"status"`
	Store   string           `json:"store"`
	Breaker bus.CircuitState `json:"circuit_breaker"`
	Error   string           `json:"error,omitempty"`
}

// StreamSummary is one registered stream in the list response.
type StreamSummary struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
	LastID string `json:"last_id,omitempty"`
	Groups int    `json:"groups"`
}

// StreamsResponse lists every registered stream.
type StreamsResponse struct {
	Streams []StreamSummary `json:"streams"`
	Count   int             `json:"count"`
}

// StreamDetail is the diagnostic view of one stream: its length, the
// last assigned entry ID and every consumer group with its pending
// count. Pending is the per-group backlog (delivered, not yet
// acknowledged).
type StreamDetail struct {
	Name   string          `json:"name"`
	Length int64           `json:"length"`
	LastID string          `json:"last_id,omitempty"`
	Groups []bus.GroupInfo `json:"groups"`
}

// ArchivedEntry is one archived bus entry in the archive read API.
// OccurredAt is omitted when the entry carried no parseable timestamp.
type ArchivedEntry struct {
	ArchiveSeq int64             `json:"archive_seq"`
	EventID    string            `json:"event_id"`
	EntryID    string            `json:"entry_id"`
	Group      string            `json:"group"`
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
	ArchivedAt time.Time         `json:"archived_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// ArchiveResponse is one page of a stream's archived history in
// archive order.
type ArchiveResponse struct {
	Stream  string          `json:"stream"`
	Entries []ArchivedEntry `json:"entries"`
	Count   int             `json:"count"`
}

// ErrorResponse is the envelope for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
