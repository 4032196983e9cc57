package search

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/obsidianrag/obsidianrag/internal/store"
)

// Expander follows wiki-links out of the surviving candidates and pulls
// each linked note in as one whole-document candidate. Depth is one:
// links inside linked documents are not followed.
type Expander struct {
	vectors *store.VectorStore
}

// NewExpander creates a graph expander over the vector store's records.
func NewExpander(vectors *store.VectorStore) *Expander {
	return &Expander{vectors: vectors}
}

// Expand appends linked-document candidates to the list. Documents
// already represented by a candidate are not added again; broken links
// are dropped silently. Linked candidates carry the fixed LinkedScore
// and bypass any score threshold applied earlier.
func (e *Expander) Expand(ctx context.Context, candidates []*Candidate) []*Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	records := e.vectors.All()

	// Resolution index: exact relative path, then lowercase basename.
	byPath := make(map[string][]*store.Record)
	byBase := make(map[string][]*store.Record)
	for _, r := range records {
		byPath[r.Source] = append(byPath[r.Source], r)
		base := strings.ToLower(strings.TrimSuffix(path.Base(r.Source), path.Ext(r.Source)))
		byBase[base] = append(byBase[base], r)
	}

	present := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		present[c.Source] = struct{}{}
	}

	out := candidates
	for _, c := range candidates {
		for _, link := range c.Links {
			docs := e.resolve(link, byPath, byBase)
			if docs == nil {
				slog.Debug("broken_wiki_link",
					slog.String("from", c.Source),
					slog.String("target", link))
				continue
			}

			source := docs[0].Source
			if _, ok := present[source]; ok {
				continue
			}
			present[source] = struct{}{}

			out = append(out, linkedCandidate(source, docs))
		}
	}

	return out
}

// resolve maps a wiki-link target to the chunks of one document.
func (e *Expander) resolve(target string, byPath, byBase map[string][]*store.Record) []*store.Record {
	if docs, ok := byPath[target]; ok {
		return docs
	}
	if docs, ok := byPath[target+".md"]; ok {
		return docs
	}
	base := strings.ToLower(strings.TrimSuffix(path.Base(target), path.Ext(target)))
	if docs, ok := byBase[base]; ok {
		return docs
	}
	return nil
}

// linkedCandidate joins a document's chunks in order into one candidate.
func linkedCandidate(source string, docs []*store.Record) *Candidate {
	sorted := make([]*store.Record, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	var sb strings.Builder
	for i, r := range sorted {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(r.Text)
	}

	return &Candidate{
		ID:         sorted[0].ID,
		Source:     source,
		Ordinal:    0,
		Text:       sb.String(),
		Score:      LinkedScore,
		Provenance: ProvenanceLinked,
	}
}
