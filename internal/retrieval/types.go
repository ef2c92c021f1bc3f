// Package retrieval implements the hybrid learning-search pipeline: C8 of
// the spec. It fuses the lexical index built in internal/learning (FTS5
// BM25) with an optional dense/embedding stage via Reciprocal Rank Fusion,
// then layers a weighted relevance score, an optional reranker pass, and
// MMR diversification on top. None of RRF, the relevance-weight formula,
// or MMR exist anywhere in the example pack; they are original algorithmic
// code written to satisfy the spec, structured the way
// internal/memory/learning.go structures its scoring pipeline (small, pure
// helper functions orchestrated by one exported entry point).
package retrieval

import "time"

// Result is one search hit with every score component the spec requires
// to be inspectable, per §4.5.
type Result struct {
	LearningID     int64
	Content        string
	Category       string
	CreatedAt      time.Time

	BM25Score      float64
	BM25Rank       int // 1-based; 0 means absent from the lexical stage
	VectorScore    float64
	VectorRank     int // 1-based; 0 means absent from the dense stage
	RRFScore       float64
	RecencyScore   float64
	OutcomeScore   float64
	FeedbackScore  float64
	RerankerScore  *float64
	RelevanceScore float64
}

// Options configures one Search call.
type Options struct {
	Limit           int
	MinScore        float64
	UseExpansion    bool
	MaxExpansions   int
	UseReranker     bool
	UseMMR          bool
	MMRLambda       float64
	CategoryCap     int
	RRFK            float64
	WeightRRF       float64
	WeightRecency   float64
	WeightOutcome   float64
	WeightFeedback  float64
	RecencyHalfLife float64 // days
}

// DefaultOptions mirrors the spec's literal weights: w_rrf=0.60,
// w_recency=0.20, w_outcome=0.05, w_feedback=0.15, RRF k=60, MMR λ=0.7,
// category cap 2 within the top 5.
func DefaultOptions() Options {
	return Options{
		Limit:           10,
		MinScore:        0,
		UseExpansion:    false,
		MaxExpansions:   3,
		UseReranker:     false,
		UseMMR:          true,
		MMRLambda:       0.7,
		CategoryCap:     2,
		RRFK:            60,
		WeightRRF:       0.60,
		WeightRecency:   0.20,
		WeightOutcome:   0.05,
		WeightFeedback:  0.15,
		RecencyHalfLife: 14,
	}
}
