package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openscripture/helpserver/internal/resource"
)

func doc(archiveKey, filePath, entryID, text string) resource.IndexDocument {
	return resource.IndexDocument{
		ArchiveKey: archiveKey,
		FilePath:   filePath,
		EntryID:    entryID,
		Text:       text,
	}
}

// TestUpsertIsIdempotent replays a batch and checks the count is unchanged.
func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	batch := []resource.IndexDocument{
		doc("a.zip", "f.md", "section-1", "in the beginning"),
		doc("a.zip", "f.md", "section-2", "and the earth"),
	}
	require.NoError(t, s.Upsert(context.Background(), batch))
	require.NoError(t, s.Upsert(context.Background(), batch))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

// TestUpsertReplacesByIdentity overwrites the document under the same key.
func TestUpsertReplacesByIdentity(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Upsert(context.Background(), []resource.IndexDocument{doc("a.zip", "f.md", "section-1", "old text")}))
	require.NoError(t, s.Upsert(context.Background(), []resource.IndexDocument{doc("a.zip", "f.md", "section-1", "new text")}))

	docs, err := s.Search(context.Background(), "new text", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = s.Search(context.Background(), "old text", 10)
	require.NoError(t, err)
	require.Empty(t, docs)
}

// TestSearchCaseInsensitiveSubstring matches regardless of case and honors
// the limit.
func TestSearchCaseInsensitiveSubstring(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Upsert(context.Background(), []resource.IndexDocument{
		doc("a.zip", "f.md", "1", "In the Beginning God created"),
		doc("a.zip", "f.md", "2", "the beginning of wisdom"),
		doc("a.zip", "f.md", "3", "unrelated content"),
	}))

	docs, err := s.Search(context.Background(), "BEGINNING", 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	docs, err = s.Search(context.Background(), "beginning", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

// TestDeleteByFile removes only the named file's documents.
func TestDeleteByFile(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Upsert(context.Background(), []resource.IndexDocument{
		doc("a.zip", "f.md", "1", "alpha"),
		doc("a.zip", "f.md", "2", "beta"),
		doc("a.zip", "g.md", "1", "gamma"),
	}))

	require.NoError(t, s.DeleteByFile(context.Background(), "a.zip", "f.md"))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	docs, err := s.Search(context.Background(), "gamma", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
