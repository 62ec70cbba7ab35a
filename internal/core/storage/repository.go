package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when an entry with the same event_id has
// already been archived. Redelivered entries hit this path and must be
// treated as success.
var ErrDuplicate = errors.New("entry already archived")

// ArchivedEntry is one bus entry persisted to the relational archive.
// Streams are trimmed by bus maintenance; the archive is the durable
// copy that survives trimming.
type ArchivedEntry struct {
	// ArchiveSeq is assigned by the database on insert.
	ArchiveSeq int64

	EventID string
	Stream  string
	// EntryID is the store-assigned stream entry ID.
	EntryID string
	Group   string

	// OccurredAt is the event timestamp; zero when the entry carried
	// none or it did not parse.
	OccurredAt time.Time
	ArchivedAt time.Time

	Fields map[string]string
}

// ArchiveStore persists bus entries beyond stream retention.
type ArchiveStore interface {
	// SaveEntry archives one entry and populates ArchiveSeq. Returns
	// ErrDuplicate when the event_id is already present.
	SaveEntry(ctx context.Context, entry *ArchivedEntry) error

	// EntriesSince returns entries of one stream archived after a given
	// time, in archive order.
	EntriesSince(ctx context.Context, stream string, since time.Time, limit int) ([]*ArchivedEntry, error)
}
