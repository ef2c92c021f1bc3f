// Package llmtools holds the optional LLM-backed collaborators the
// retrieval pipeline calls: query expansion and reranking. Both have
// no-op implementations so the core search path never hard-fails when
// no LLM backend is configured, per §9.
package llmtools

import "context"

// Expander turns a query into up to 1+K variants (§4.5 step 1).
type Expander interface {
	Expand(ctx context.Context, query string, maxVariants int) ([]string, error)
}

// NoopExpander returns just [query].
type NoopExpander struct{}

func (NoopExpander) Expand(_ context.Context, query string, _ int) ([]string, error) {
	return []string{query}, nil
}

// Candidate is the minimal shape a reranker needs to see.
type Candidate struct {
	ID      int64
	Content string
}

// Reranked pairs a candidate id with its cross-encoder-style score.
type Reranked struct {
	ID    int64
	Score float64
}

// Reranker receives the top 3×N candidates and returns a re-ordered top N.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topN int) ([]Reranked, error)
}

// NoopReranker leaves the input order unchanged.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, candidates []Candidate, topN int) ([]Reranked, error) {
	if topN > len(candidates) {
		topN = len(candidates)
	}
	out := make([]Reranked, topN)
	for i := 0; i < topN; i++ {
		out[i] = Reranked{ID: candidates[i].ID, Score: 0}
	}
	return out, nil
}
