package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanFindsMarkdownNotes(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "inbox.md", "# Inbox")
	writeNote(t, root, "projects/roadmap.md", "# Roadmap")
	writeNote(t, root, "projects/ideas.markdown", "# Ideas")

	notes, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, notes, 3)

	paths := make([]string, len(notes))
	for i, n := range notes {
		paths[i] = n.RelPath
	}
	assert.Contains(t, paths, "inbox.md")
	assert.Contains(t, paths, "projects/roadmap.md")
	assert.Contains(t, paths, "projects/ideas.markdown")
}

func TestScanSkipsDotDirsAndExcluded(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "keep.md", "kept")
	writeNote(t, root, ".obsidian/workspace.md", "skip")
	writeNote(t, root, DataDirName+"/manifest.md", "skip")
	writeNote(t, root, "drawing.excalidraw.md", "skip")
	writeNote(t, root, "board.canvas", "skip")
	writeNote(t, root, "notes.txt", "skip")
	writeNote(t, root, "empty.md", "")

	notes, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "keep.md", notes[0].RelPath)
}

func TestIndexable(t *testing.T) {
	assert.True(t, Indexable("note.md"))
	assert.True(t, Indexable("Note.MD"))
	assert.True(t, Indexable("note.markdown"))
	assert.False(t, Indexable("sketch.excalidraw.md"))
	assert.False(t, Indexable("board.canvas"))
	assert.False(t, Indexable(".hidden.md"))
	assert.False(t, Indexable("readme.txt"))
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DataDirName, "manifest.json")

	m := NewManifest()
	m.Set("notes/a.md", "hash-a", []string{"c1", "c2"})
	m.Set("notes/b.md", "hash-b", []string{"c3"})
	require.NoError(t, m.Save(path))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 2)

	entry := loaded.Get("notes/a.md")
	require.NotNil(t, entry)
	assert.Equal(t, "hash-a", entry.Hash)
	assert.Equal(t, []string{"c1", "c2"}, entry.ChunkIDs)
	assert.False(t, entry.IndexedAt.IsZero())
}

func TestManifestMissingFileIsEmpty(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
}

func TestManifestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestManifestRemove(t *testing.T) {
	m := NewManifest()
	m.Set("a.md", "h", []string{"c1", "c2"})

	ids := m.Remove("a.md")
	assert.Equal(t, []string{"c1", "c2"}, ids)
	assert.Nil(t, m.Get("a.md"))
	assert.Nil(t, m.Remove("a.md"))
}

func TestManifestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := NewManifest()
	m.Set("a.md", "h", nil)
	require.NoError(t, m.Save(path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestHashContentDeterministic(t *testing.T) {
	h1 := HashContent("same content")
	h2 := HashContent("same content")
	h3 := HashContent("different")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
