package chunk

import (
	"strings"
	"unicode"
)

// Chunker splits note text into overlapping character windows, preferring
// to break at paragraph, then sentence, then whitespace boundaries.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap.
// Zero values fall back to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits a note into chunks. Empty or whitespace-only content
// yields no chunks; content that fits one window yields exactly one.
func (c *Chunker) Chunk(source, content string) []*Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var chunks []*Chunk
	runes := []rune(content)
	start := 0
	ordinal := 0

	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.findSplit(runes, start, end)
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, &Chunk{
				ID:      GenerateChunkID(source, ordinal, text),
				Source:  source,
				Ordinal: ordinal,
				Text:    text,
				Links:   ExtractLinks(text),
			})
			ordinal++
		}

		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// findSplit picks the best break point at or before limit.
// Preference order: paragraph break, sentence end, whitespace, hard cut.
// A boundary is only taken if it keeps at least half the window, so
// pathological input cannot produce degenerate slivers.
func (c *Chunker) findSplit(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	minSplit := c.size / 2

	if idx := strings.LastIndex(window, "\n\n"); idx >= minSplit {
		return start + len([]rune(window[:idx+2]))
	}

	if idx := lastSentenceEnd(window); idx >= minSplit {
		return start + idx
	}

	if idx := lastWhitespace(window); idx >= minSplit {
		return start + idx
	}

	return limit
}

// lastSentenceEnd returns the rune index just past the last sentence
// terminator followed by whitespace, or -1.
func lastSentenceEnd(s string) int {
	runes := []rune(s)
	for i := len(runes) - 2; i > 0; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

// lastWhitespace returns the rune index of the last whitespace, or -1.
func lastWhitespace(s string) int {
	runes := []rune(s)
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
