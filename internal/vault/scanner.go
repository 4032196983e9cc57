// Package vault walks the note tree, tracks indexed state in the
// manifest, and watches for live edits.
package vault

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DataDirName is the vault-local directory holding all derived state.
const DataDirName = ".obsidianrag"

// excludedSuffixes are note name patterns that never get indexed.
var excludedSuffixes = []string{
	".excalidraw.md",
	".canvas",
}

// Note is a Markdown file discovered in the vault.
type Note struct {
	// RelPath is the path relative to the vault root, forward slashes.
	RelPath string

	// AbsPath is the absolute path on disk.
	AbsPath string

	// Size is the file size in bytes.
	Size int64
}

// Scan walks the vault and returns every indexable Markdown note.
// Dot-directories (including the data directory) are skipped; so are
// excluded patterns and empty files.
func Scan(vaultPath string) ([]*Note, error) {
	var notes []*Note

	err := filepath.WalkDir(vaultPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != vaultPath && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !Indexable(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 {
			return nil
		}

		rel, err := filepath.Rel(vaultPath, path)
		if err != nil {
			return nil
		}

		notes = append(notes, &Note{
			RelPath: filepath.ToSlash(rel),
			AbsPath: path,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return notes, nil
}

// Indexable reports whether a file name is an indexable note.
func Indexable(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// ReadNote reads a note's content from disk.
func ReadNote(n *Note) (string, error) {
	data, err := os.ReadFile(n.AbsPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
