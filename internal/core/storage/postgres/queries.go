package postgres

// SQL queries for the archive adapter.

const (
	// querySaveEntry inserts one archived entry. event_id carries a
	// unique constraint so redelivered bus entries collapse into a
	// no-op insert; ON CONFLICT DO NOTHING returns no rows
	// (sql.ErrNoRows) for those.
	// RETURNING retrieves the auto-generated archive_seq.
	querySaveEntry = `
		INSERT INTO events (
			event_id, stream, entry_id, consumer_group,
			occurred_at, archived_at, fields
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING archive_seq
	`

	// queryEntriesSince fetches entries of one stream archived after a
	// given time, in archive order. archive_seq is monotonic per
	// insert so pagination by time plus LIMIT cannot skip entries
	// within a page.
	queryEntriesSince = `
		SELECT
			archive_seq, event_id, stream, entry_id, consumer_group,
			occurred_at, archived_at, fields
		FROM events
		WHERE stream = $1
		  AND archived_at > $2
		ORDER BY archive_seq ASC
		LIMIT $3
	`
)
