// Package search implements the retrieval pipeline: hybrid BM25+vector
// retrieval, optional cross-encoder reranking, and wiki-link expansion.
package search

// Provenance tags how a candidate entered the pipeline.
type Provenance string

const (
	ProvenanceVector  Provenance = "vector"
	ProvenanceLexical Provenance = "lexical"
	ProvenanceHybrid  Provenance = "hybrid"
	ProvenanceLinked  Provenance = "linked"
)

// LinkedScore is the fixed score assigned to graph-expanded candidates.
// It sits below any candidate that survives the min-score threshold so
// linked context never outranks retrieved context.
const LinkedScore = 0.25

// Candidate is a scored retrieval unit flowing through the pipeline.
type Candidate struct {
	ID         string
	Source     string
	Ordinal    int
	Text       string
	Links      []string
	Score      float64
	Provenance Provenance
}

// ApplyThreshold drops candidates scoring below minScore but always
// keeps the best one, so retrieval never comes back empty-handed when
// it found anything at all. Input must be sorted best-first.
func ApplyThreshold(candidates []*Candidate, minScore float64) []*Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	kept := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= minScore {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, candidates[0])
	}
	return kept
}
