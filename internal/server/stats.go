package server

import (
	"path"
	"strings"

	"github.com/obsidianrag/obsidianrag/internal/store"
)

// statsResponse is the /stats payload.
type statsResponse struct {
	TotalNotes       int     `json:"total_notes"`
	TotalChunks      int     `json:"total_chunks"`
	TotalWords       int     `json:"total_words"`
	TotalChars       int     `json:"total_chars"`
	AvgWordsPerChunk float64 `json:"avg_words_per_chunk"`
	Folders          int     `json:"folders"`
	InternalLinks    int     `json:"internal_links"`
	VaultPath        string  `json:"vault_path"`
}

// computeStats derives vault totals from the vector store's cached
// records, avoiding a filesystem walk.
func computeStats(records []*store.Record, vaultPath string) statsResponse {
	stats := statsResponse{VaultPath: vaultPath}

	notes := make(map[string]struct{})
	folders := make(map[string]struct{})
	for _, r := range records {
		stats.TotalChunks++
		stats.TotalWords += len(strings.Fields(r.Text))
		stats.TotalChars += len(r.Text)
		stats.InternalLinks += len(r.Links)

		notes[r.Source] = struct{}{}
		if dir := path.Dir(r.Source); dir != "." {
			folders[dir] = struct{}{}
		}
	}
	stats.TotalNotes = len(notes)
	stats.Folders = len(folders)
	if stats.TotalChunks > 0 {
		stats.AvgWordsPerChunk = float64(stats.TotalWords) / float64(stats.TotalChunks)
	}
	return stats
}
