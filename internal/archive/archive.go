// Package archive persists bus entries to the relational archive.
// Streams are capped and trimmed; the archive keeps the full history
// for the fleet side to query after a sync gap.
package archive

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/halcyon-labs/edgelink/internal/bus"
	"github.com/halcyon-labs/edgelink/internal/core/storage"
)

// Group is the consumer group name the archiver joins on every
// archived stream.
const Group = "archive"

// Subscriber is the bus surface the archiver needs.
type Subscriber interface {
	Subscribe(stream, group string, handler bus.Handler) error
}

// Archiver copies entries from the configured streams into an
// ArchiveStore. Store failures are retryable so entries stay pending
// until the database returns.
type Archiver struct {
	store   storage.ArchiveStore
	streams []string
}

func NewArchiver(store storage.ArchiveStore, streams []string) *Archiver {
	return &Archiver{store: store, streams: streams}
}

// Attach subscribes the archiver to all of its streams.
func (a *Archiver) Attach(sub Subscriber) error {
	for _, stream := range a.streams {
		if err := sub.Subscribe(stream, Group, a.persist); err != nil {
			return err
		}
	}
	slog.Info("[Archive] Archiving streams", "count", len(a.streams), "group", Group)
	return nil
}

// persist writes one entry to the archive. The row is durable before
// the entry is acknowledged; a redelivered entry that was already
// archived acknowledges without a second insert.
func (a *Archiver) persist(ctx context.Context, d *bus.Delivery) error {
	entry := &storage.ArchivedEntry{
		EventID:    eventID(d),
		Stream:     d.Stream,
		EntryID:    d.ID,
		Group:      d.Group,
		OccurredAt: occurredAt(d),
		ArchivedAt: time.Now().UTC(),
		Fields:     d.Fields,
	}

	err := a.store.SaveEntry(ctx, entry)
	if errors.Is(err, storage.ErrDuplicate) {
		slog.Debug("[Archive] Entry already archived", "stream", d.Stream, "event_id", entry.EventID)
		return nil
	}
	if err != nil {
		return bus.Retryable(err)
	}
	return nil
}

// eventID prefers the event's own ID; entries published outside the
// bus front door may not carry one, so fall back to the stream entry
// ID which is unique per stream.
func eventID(d *bus.Delivery) string {
	if id := d.Fields["event_id"]; id != "" {
		return id
	}
	return d.Stream + "/" + d.ID
}

// occurredAt parses the event timestamp. Zero when absent or
// unparseable; the archive stores NULL in that case.
func occurredAt(d *bus.Delivery) time.Time {
	raw := d.Fields["timestamp"]
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
