// Package learning implements the content-addressed learning index: C7 of
// the spec. Grounded on internal/memory/learning.go's LearningDB, with
// the lexical index upgraded from hand-rolled TF-IDF to SQLite FTS5 (see
// DESIGN.md).
package learning

import "time"

// Learning is a piece of retrievable text knowledge.
type Learning struct {
	ID           int64
	Content      string
	SourceType   string
	SourceRef    *string
	Keywords     []string
	Category     *string
	UsageCount   int
	LastUsedAt   *time.Time
	OutcomeScore *float64
	Embedding    []float32
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

const DefaultSourceType = "manual"

// Stats summarizes the store for an admin/status endpoint.
type Stats struct {
	TotalLearnings int
	ByCategory     map[string]int
}
