package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/edgelink/internal/core/storage"
)

func TestAdapter_SaveEntry(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		entry      *storage.ArchivedEntry
		mockResult func(mock sqlmock.Sqlmock, entry *storage.ArchivedEntry)
		assertions func(t *testing.T, entry *storage.ArchivedEntry, err error)
	}{
		{
			name: "success sets archive seq",
			entry: &storage.ArchivedEntry{
				EventID:    "ev-1",
				Stream:     "cpu_usage_updated",
				EntryID:    "1724587200000-0",
				Group:      "archive",
				OccurredAt: now,
				ArchivedAt: now.Add(time.Second),
				Fields:     map[string]string{"event_id": "ev-1", "temperature_celsius": "48.3"},
			},
			mockResult: func(mock sqlmock.Sqlmock, entry *storage.ArchivedEntry) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEntry)).
					WithArgs(
						entry.EventID,
						entry.Stream,
						entry.EntryID,
						entry.Group,
						entry.OccurredAt,
						entry.ArchivedAt,
						sqlmock.AnyArg(),
					).
					WillReturnRows(sqlmock.NewRows([]string{"archive_seq"}).AddRow(int64(42)))
			},
			assertions: func(t *testing.T, entry *storage.ArchivedEntry, err error) {
				require.NoError(t, err)
				require.Equal(t, int64(42), entry.ArchiveSeq)
			},
		},
		{
			name: "duplicate maps to ErrDuplicate",
			entry: &storage.ArchivedEntry{
				EventID:    "ev-dup",
				Stream:     "cpu_usage_updated",
				EntryID:    "1724587201000-0",
				Group:      "archive",
				OccurredAt: now,
				ArchivedAt: now,
				Fields:     map[string]string{"event_id": "ev-dup"},
			},
			mockResult: func(mock sqlmock.Sqlmock, entry *storage.ArchivedEntry) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEntry)).
					WithArgs(
						entry.EventID,
						entry.Stream,
						entry.EntryID,
						entry.Group,
						entry.OccurredAt,
						entry.ArchivedAt,
						sqlmock.AnyArg(),
					).
					WillReturnRows(sqlmock.NewRows([]string{"archive_seq"}))
			},
			assertions: func(t *testing.T, entry *storage.ArchivedEntry, err error) {
				require.ErrorIs(t, err, storage.ErrDuplicate)
				require.Equal(t, int64(0), entry.ArchiveSeq)
			},
		},
		{
			name: "missing timestamp and fields insert as NULL",
			entry: &storage.ArchivedEntry{
				EventID:    "ev-bare",
				Stream:     "audit_alert",
				EntryID:    "1724587202000-0",
				Group:      "archive",
				ArchivedAt: now,
			},
			mockResult: func(mock sqlmock.Sqlmock, entry *storage.ArchivedEntry) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEntry)).
					WithArgs(
						entry.EventID,
						entry.Stream,
						entry.EntryID,
						entry.Group,
						nil,
						entry.ArchivedAt,
						nil,
					).
					WillReturnRows(sqlmock.NewRows([]string{"archive_seq"}).AddRow(int64(7)))
			},
			assertions: func(t *testing.T, entry *storage.ArchivedEntry, err error) {
				require.NoError(t, err)
				require.Equal(t, int64(7), entry.ArchiveSeq)
			},
		},
		{
			name: "query error wraps",
			entry: &storage.ArchivedEntry{
				EventID:    "ev-err",
				Stream:     "cpu_usage_updated",
				EntryID:    "1724587203000-0",
				Group:      "archive",
				OccurredAt: now,
				ArchivedAt: now,
			},
			mockResult: func(mock sqlmock.Sqlmock, entry *storage.ArchivedEntry) {
				mock.ExpectQuery(regexp.QuoteMeta(querySaveEntry)).
					WillReturnError(errors.New("connection reset"))
			},
			assertions: func(t *testing.T, entry *storage.ArchivedEntry, err error) {
				require.Error(t, err)
				require.ErrorContains(t, err, "failed to save entry")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			if tc.mockResult != nil {
				tc.mockResult(mock, tc.entry)
			}

			err := adapter.SaveEntry(context.Background(), tc.entry)
			tc.assertions(t, tc.entry, err)

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_EntriesSince(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	since := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	occurredAt := since.Add(5 * time.Minute)
	archivedAt := occurredAt.Add(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(queryEntriesSince)).
		WithArgs("cpu_usage_updated", since, 2).
		WillReturnRows(sqlmock.NewRows(entryRowColumns()).
			AddRow(
				int64(101),
				"ev-101",
				"cpu_usage_updated",
				"1724580300000-0",
				"archive",
				occurredAt,
				archivedAt,
				[]byte(`{"event_id":"ev-101","temperature_celsius":"48.3"}`),
			).
			AddRow(
				int64(102),
				"ev-102",
				"cpu_usage_updated",
				"1724580360000-0",
				"archive",
				nil,
				archivedAt.Add(time.Minute),
				nil,
			),
		).RowsWillBeClosed()

	entries, err := adapter.EntriesSince(context.Background(), "cpu_usage_updated", since, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "ev-101", entries[0].EventID)
	require.Equal(t, int64(101), entries[0].ArchiveSeq)
	require.Equal(t, "48.3", entries[0].Fields["temperature_celsius"])
	require.Equal(t, occurredAt, entries[0].OccurredAt)
	require.Equal(t, "ev-102", entries[1].EventID)
	require.Equal(t, int64(102), entries[1].ArchiveSeq)
	require.True(t, entries[1].OccurredAt.IsZero())
	require.Nil(t, entries[1].Fields)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_EntriesSinceQueryError(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryEntriesSince)).
		WillReturnError(errors.New("connection reset"))

	_, err := adapter.EntriesSince(context.Background(), "cpu_usage_updated", time.Now(), 10)
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to query entries")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAdapter_MissingSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = NewAdapter(db)
	require.Error(t, err)
	require.ErrorContains(t, err, "did you run migrations")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAdapter_PreparesStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectPrepare(regexp.QuoteMeta(querySaveEntry)).WillBeClosed()
	mock.ExpectPrepare(regexp.QuoteMeta(queryEntriesSince)).WillBeClosed()
	mock.ExpectClose()

	adapter, err := NewAdapter(db)
	require.NoError(t, err)
	require.NoError(t, adapter.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dbCloseErr := errors.New("db close failed")

	mock.ExpectPrepare(regexp.QuoteMeta(querySaveEntry)).WillBeClosed()
	stmtSave, err := db.Prepare(querySaveEntry)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryEntriesSince)).WillBeClosed()
	stmtSince, err := db.Prepare(queryEntriesSince)
	require.NoError(t, err)

	mock.ExpectClose().WillReturnError(dbCloseErr)

	adapter := &Adapter{
		db:               db,
		stmtSaveEntry:    stmtSave,
		stmtEntriesSince: stmtSince,
	}

	err = adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:               db,
		stmtSaveEntry:    mustPrepareStmt(t, db, mock, querySaveEntry),
		stmtEntriesSince: mustPrepareStmt(t, db, mock, queryEntriesSince),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func entryRowColumns() []string {
	return []string{
		"archive_seq",
		"event_id",
		"stream",
		"entry_id",
		"consumer_group",
		"occurred_at",
		"archived_at",
		"fields",
	}
}
