package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openscripture/helpserver/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return store
}

// TestNewRequiresBaseDir fails fast on a blank configuration.
func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

// TestNewCreatesMissingBaseDir provisions the directory on first start.
func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "objects")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	require.DirExists(t, dir)
}

// TestPutGetRoundTrip maps slash keys onto nested directories.
func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, "org/en/tn/v1.zip", "application/zip", []byte("bytes")))

	obj, err := store.Get(ctx, "org/en/tn/v1.zip")
	require.NoError(t, err)
	require.Equal(t, []byte("bytes"), obj.Data)
	require.Equal(t, "application/zip", obj.ContentType)
}

// TestGetInfersContentType derives the MIME type from the key suffix.
func TestGetInfersContentType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, "org/en/tn/v1/intro.md", "text/markdown; charset=utf-8", []byte("# hi")))

	obj, err := store.Get(ctx, "org/en/tn/v1/intro.md")
	require.NoError(t, err)
	require.Equal(t, "text/markdown; charset=utf-8", obj.ContentType)
}

// TestGetMissing reports storage.ErrNotFound.
func TestGetMissing(t *testing.T) {
	t.Parallel()

	_, err := newTestStore(t).Get(context.Background(), "absent.zip")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestTraversalKeysRejected keeps every operation inside the base directory.
func TestTraversalKeysRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	for _, key := range []string{"../escape", "a/../../escape", ""} {
		require.Error(t, store.Put(ctx, key, "text/plain", []byte("x")), "key %q", key)
		_, err := store.Get(ctx, key)
		require.Error(t, err, "key %q", key)
		require.Error(t, store.Delete(ctx, key), "key %q", key)
	}
}

// TestDeleteIsIdempotent tolerates absent keys.
func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, "k.txt", "text/plain", []byte("abc")))
	require.NoError(t, store.Delete(ctx, "k.txt"))
	require.NoError(t, store.Delete(ctx, "k.txt"))
}

// TestListPagesThroughPrefix walks the tree in lexical key order with
// cursors.
func TestListPagesThroughPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	for _, key := range []string{"a/1.txt", "a/2.txt", "a/sub/3.txt", "b/1.txt"} {
		require.NoError(t, store.Put(ctx, key, "text/plain", []byte("x")))
	}

	page, err := store.List(ctx, "a/", "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a/1.txt", "a/2.txt"}, page.Keys)
	require.Equal(t, "a/2.txt", page.NextCursor)

	page, err = store.List(ctx, "a/", page.NextCursor, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a/sub/3.txt"}, page.Keys)
	require.Empty(t, page.NextCursor)
}
