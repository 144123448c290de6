package state

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreUpdateAndLookup(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)

	abs := filepath.Join(root, "notes", "a.md")
	require.NoError(t, s.Update(abs, "doccn1", KindDocument, 100))

	e, ok := s.GetByPath(abs)
	require.True(t, ok)
	assert.Equal(t, "doccn1", e.Token)
	assert.Equal(t, int64(100), e.LastSyncMtime)

	rel, ok := s.GetByToken("doccn1")
	require.True(t, ok)
	assert.Equal(t, "notes/a.md", rel)
	assert.Equal(t, abs, s.AbsPath(rel))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Update(filepath.Join(root, "a.md"), "doccn1", KindDocument, 7))

	// The state file lives at the vault root.
	_, err = os.Stat(filepath.Join(root, FileName))
	require.NoError(t, err)

	reopened, err := Open(root, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	e, ok := reopened.GetByPath(filepath.Join(root, "a.md"))
	require.True(t, ok)
	assert.Equal(t, "doccn1", e.Token)
	assert.Equal(t, int64(7), e.LastSyncMtime)
}

func TestStoreRemove(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)

	abs := filepath.Join(root, "a.md")
	require.NoError(t, s.Update(abs, "doccn1", KindDocument, 1))
	require.NoError(t, s.Remove(abs))

	_, ok := s.GetByPath(abs)
	assert.False(t, ok)

	_, ok = s.GetByToken("doccn1")
	assert.False(t, ok)

	// Removing again is a no-op.
	require.NoError(t, s.Remove(abs))
}

func TestStoreRemoveByToken(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Update(filepath.Join(root, "a.md"), "doccn1", KindDocument, 1))
	require.NoError(t, s.RemoveByToken("doccn1"))

	assert.Equal(t, 0, s.Len())
}

func TestStoreRemoveDirectoryCascades(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)

	dir := filepath.Join(root, "project")
	require.NoError(t, s.Update(dir, "fold1", KindFolder, 0))
	require.NoError(t, s.Update(filepath.Join(dir, "a.md"), "doccn1", KindDocument, 1))
	require.NoError(t, s.Update(filepath.Join(dir, "sub", "b.md"), "doccn2", KindDocument, 2))
	require.NoError(t, s.Update(filepath.Join(root, "projected.md"), "doccn3", KindDocument, 3))

	require.NoError(t, s.RemoveDirectory(dir))

	// The folder and everything below it are gone; the sibling whose name
	// merely shares the prefix survives.
	assert.Equal(t, 1, s.Len())

	_, ok := s.GetByToken("doccn3")
	assert.True(t, ok)
}

func TestStoreTokenMoveInvalidatesReverseEntry(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)

	abs := filepath.Join(root, "a.md")
	require.NoError(t, s.Update(abs, "doccn1", KindDocument, 1))
	require.NoError(t, s.Update(abs, "doccn2", KindDocument, 2))

	_, ok := s.GetByToken("doccn1")
	assert.False(t, ok)

	rel, ok := s.GetByToken("doccn2")
	require.True(t, ok)
	assert.Equal(t, "a.md", rel)
}

func TestStoreEntriesSnapshot(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Update(filepath.Join(root, "a.md"), "doccn1", KindDocument, 1))

	entries := s.Entries()
	require.Len(t, entries, 1)

	// Mutating the snapshot does not touch the store.
	delete(entries, "a.md")
	assert.Equal(t, 1, s.Len())
}
