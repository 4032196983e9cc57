package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestEntry records one indexed note.
type ManifestEntry struct {
	// Hash is the SHA-256 of the note content at index time.
	Hash string `json:"hash"`

	// IndexedAt is when the note was last (re)indexed.
	IndexedAt time.Time `json:"indexed_at"`

	// ChunkIDs are the chunk IDs produced from this note.
	ChunkIDs []string `json:"chunk_ids"`
}

// Manifest maps note paths (relative to the vault root) to their indexed
// state. It is the source of truth for incremental reindexing.
type Manifest struct {
	Entries map[string]*ManifestEntry `json:"entries"`
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{Entries: make(map[string]*ManifestEntry)}
}

// LoadManifest reads a manifest from disk. A missing file yields an
// empty manifest; a corrupt file is an error so the caller can decide
// to rebuild.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]*ManifestEntry)
	}
	return &m, nil
}

// Save writes the manifest atomically via temp file + rename.
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// Set records a note's indexed state.
func (m *Manifest) Set(relPath, hash string, chunkIDs []string) {
	m.Entries[relPath] = &ManifestEntry{
		Hash:      hash,
		IndexedAt: time.Now().UTC(),
		ChunkIDs:  chunkIDs,
	}
}

// Get returns the entry for a note, or nil.
func (m *Manifest) Get(relPath string) *ManifestEntry {
	return m.Entries[relPath]
}

// Remove drops a note's entry and returns its chunk IDs.
func (m *Manifest) Remove(relPath string) []string {
	entry, ok := m.Entries[relPath]
	if !ok {
		return nil
	}
	delete(m.Entries, relPath)
	return entry.ChunkIDs
}

// Paths returns every tracked note path.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		paths = append(paths, p)
	}
	return paths
}

// HashContent computes the manifest content hash for a note body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
