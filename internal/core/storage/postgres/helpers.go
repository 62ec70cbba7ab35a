package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/halcyon-labs/edgelink/internal/core/storage"
)

// canonical sorts map keys so identical payloads produce identical
// JSONB values, matching the fingerprint encoding used by the bus.
var canonical = sonic.ConfigStd

// marshalEntryFields marshals an entry's field map to JSON.
//
// Nil or empty fields produce nil (SQL NULL) rather than JSON "null".
func marshalEntryFields(entry *storage.ArchivedEntry) ([]byte, error) {
	if len(entry.Fields) == 0 {
		return nil, nil
	}
	fieldsJSON, err := canonical.Marshal(entry.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return fieldsJSON, nil
}

// nullableTime maps the zero time to SQL NULL. Entries without a
// parseable timestamp archive with occurred_at unset.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntryRow scans a database row into an ArchivedEntry.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEntryRow(row scanner) (*storage.ArchivedEntry, error) {
	var entry storage.ArchivedEntry
	var occurredAt sql.NullTime
	var fieldsJSON []byte

	err := row.Scan(
		&entry.ArchiveSeq,
		&entry.EventID,
		&entry.Stream,
		&entry.EntryID,
		&entry.Group,
		&occurredAt,
		&entry.ArchivedAt,
		&fieldsJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry row: %w", err)
	}

	if occurredAt.Valid {
		entry.OccurredAt = occurredAt.Time
	}
	if len(fieldsJSON) > 0 {
		if err := canonical.Unmarshal(fieldsJSON, &entry.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}

	return &entry, nil
}
