package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a file (and its parents) with trivial content.
func writeFile(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestIndexFind(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "notes", "diagram.png"))
	writeFile(t, filepath.Join(root, "deep", "nested", "photo.jpg"))

	idx, err := NewIndex(root, nil, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	t.Run("bare filename", func(t *testing.T) {
		got, err := idx.Find("photo.jpg")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "deep", "nested", "photo.jpg"), got)
	})

	t.Run("relative path", func(t *testing.T) {
		got, err := idx.Find("notes/diagram.png")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "notes", "diagram.png"), got)
	})

	t.Run("absolute path", func(t *testing.T) {
		abs := filepath.Join(root, "notes", "diagram.png")

		got, err := idx.Find(abs)
		require.NoError(t, err)
		assert.Equal(t, abs, got)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := idx.Find("nope.png")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty reference", func(t *testing.T) {
		_, err := idx.Find("")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIndexFirstSeenWins(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "a", "dup.png"))
	writeFile(t, filepath.Join(root, "z", "dup.png"))

	idx, err := NewIndex(root, nil, testLogger(t))
	require.NoError(t, err)

	got, err := idx.Find("dup.png")
	require.NoError(t, err)

	// WalkDir visits lexically, so a/ wins over z/.
	assert.Equal(t, filepath.Join(root, "a", "dup.png"), got)
}

func TestIndexSkipsHiddenAndBuildDirs(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, ".obsidian", "hidden.png"))
	writeFile(t, filepath.Join(root, "node_modules", "dep.png"))
	writeFile(t, filepath.Join(root, "ok.png"))

	idx, err := NewIndex(root, nil, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())

	_, err = idx.Find("hidden.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndexExcalidrawFallback(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "drawings", "sketch.excalidraw.md"))

	idx, err := NewIndex(root, nil, testLogger(t))
	require.NoError(t, err)

	got, err := idx.Find("sketch.excalidraw")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "drawings", "sketch.excalidraw.md"), got)
}

func TestIndexExtensionFilter(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "keep.png"))
	writeFile(t, filepath.Join(root, "skip.exe"))

	idx, err := NewIndex(root, []string{".png"}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}
