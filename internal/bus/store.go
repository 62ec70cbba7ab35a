package bus

import (
	"context"
	"time"
)

// Entry is one durable stream record: a store-assigned ID plus the flat
// field map of the event. IDs are strictly increasing within a stream and
// never reused.
type Entry struct {
	ID     string
	Stream string
	Fields map[string]string
}

// PendingEntry describes one delivered-but-unacknowledged entry of a
// consumer group.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// GroupInfo summarizes one consumer group on a stream.
type GroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// StreamInfo summarizes one stream.
type StreamInfo struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
	LastID string `json:"last_id"`
}

// StreamStore is the backing-store protocol the bus runs on: append-only
// stream writes plus consumer-group reads with explicit acknowledgement and
// claim-transfer of stale pending entries. Implementations live in
// internal/bus/storage. Failures are wrapped as *ConnError by callers so
// they feed the circuit breaker.
type StreamStore interface {
	// Append writes fields as a new entry on stream and returns the assigned
	// ID. A maxLen > 0 additionally requests approximate trimming of the
	// stream to that length.
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)

	// EnsureGroup creates group on stream reading from the beginning,
	// creating the stream as a side effect when it does not exist yet.
	// Creating an existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup delivers up to count new entries to consumer in group,
	// blocking up to block when none are available (block <= 0 returns
	// immediately). Delivered entries stay pending until acknowledged.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack acknowledges handled entries for group.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Pending lists delivered-but-unacknowledged entries of group, oldest
	// first, up to limit.
	Pending(ctx context.Context, stream, group string, limit int64) ([]PendingEntry, error)

	// Claim transfers ownership of the given pending entries to consumer,
	// skipping entries whose idle time is below minIdle, and returns the
	// entries actually claimed.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]Entry, error)

	// Groups returns the consumer groups of stream. A missing stream yields
	// an empty slice.
	Groups(ctx context.Context, stream string) ([]GroupInfo, error)

	// Info returns length and last-assigned ID of stream. A missing stream
	// yields a zero StreamInfo.
	Info(ctx context.Context, stream string) (StreamInfo, error)

	// Trim drops the oldest entries so the stream holds approximately maxLen.
	Trim(ctx context.Context, stream string, maxLen int64) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
