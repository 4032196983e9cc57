// Package chunk splits Markdown notes into overlapping retrieval units
// and extracts their wiki-links.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Window defaults tuned for note-sized Markdown documents.
const (
	DefaultChunkSize    = 1500 // characters per window
	DefaultChunkOverlap = 300  // characters shared between consecutive windows
)

// Chunk is a retrievable unit of note content.
type Chunk struct {
	ID      string   // deterministic content-addressable identifier
	Source  string   // note path relative to the vault root
	Ordinal int      // 0-based position within the note
	Text    string   // chunk content
	Links   []string // wiki-link targets found in this chunk, order-preserving
}

// GenerateChunkID derives the deterministic chunk identifier from the
// note path, the chunk's ordinal, and a digest of its text. Re-chunking
// unchanged content always reproduces the same IDs.
func GenerateChunkID(source string, ordinal int, text string) string {
	textHash := sha256.Sum256([]byte(text))
	input := fmt.Sprintf("%s:%d:%s", source, ordinal, hex.EncodeToString(textHash[:]))
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
