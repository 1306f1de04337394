package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/openscripture/helpserver/internal/resource"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "search_documents")
	require.NoError(t, err)
	return store, mock
}

func sampleDocs() []resource.IndexDocument {
	return []resource.IndexDocument{
		{
			ArchiveKey: "org/en/tn/v1.zip",
			FilePath:   "intro.md",
			EntryID:    "section-1",
			Resource:   "tn",
			Language:   "en",
			Reference:  "Introduction",
			Text:       "in the beginning",
		},
		{
			ArchiveKey: "org/en/tn/v1.zip",
			FilePath:   "intro.md",
			EntryID:    "section-2",
			Resource:   "tn",
			Language:   "en",
			Text:       "and the earth",
		},
	}
}

// TestNewWithPoolValidatesTable rejects injection-prone table names.
func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "docs; DROP TABLE docs")
	require.Error(t, err)

	_, err = NewWithPool(nil, "search_documents")
	require.Error(t, err)
}

// TestUpsertCommitsBatchInOneTransaction expects one exec per document
// inside a single transaction.
func TestUpsertCommitsBatchInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	docs := sampleDocs()

	mock.ExpectBegin()
	for _, doc := range docs {
		mock.ExpectExec("INSERT INTO search_documents").
			WithArgs(doc.ArchiveKey, doc.FilePath, doc.EntryID, doc.Resource, doc.Language, doc.Reference, doc.Text).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.Upsert(context.Background(), docs))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertRollsBackOnFailure keeps prior documents by rolling the
// transaction back when any insert fails.
func TestUpsertRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	docs := sampleDocs()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO search_documents").
		WithArgs(docs[0].ArchiveKey, docs[0].FilePath, docs[0].EntryID, docs[0].Resource, docs[0].Language, docs[0].Reference, docs[0].Text).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	require.Error(t, store.Upsert(context.Background(), docs))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertEmptyBatchIsNoop touches nothing for zero documents.
func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.Upsert(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDeleteByFile issues one delete scoped to the file.
func TestDeleteByFile(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM search_documents").
		WithArgs("org/en/tn/v1.zip", "intro.md").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, store.DeleteByFile(context.Background(), "org/en/tn/v1.zip", "intro.md"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCount scans the single aggregate row.
func TestCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSearchScansDocuments maps result rows back into documents.
func TestSearchScansDocuments(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{
		"archive_key", "file_path", "entry_id", "resource", "language", "reference", "body",
	}).AddRow("org/en/tn/v1.zip", "intro.md", "section-1", "tn", "en", "Introduction", "in the beginning")

	mock.ExpectQuery("SELECT archive_key, file_path, entry_id").
		WithArgs("beginning", 10).
		WillReturnRows(rows)

	docs, err := store.Search(context.Background(), "beginning", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "section-1", docs[0].EntryID)
	require.Equal(t, "in the beginning", docs[0].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}
