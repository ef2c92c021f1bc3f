package learning

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

const learningColumns = `id, content, source_type, source_ref, keywords, category,
	usage_count, last_used_at, outcome_score, embedding, created_at, updated_at, deleted_at`

// Store is the SQLite-backed learning repository, grounded on
// internal/memory/learning.go's StoreKnowledge/GetKnowledge/
// IncrementUseCount/GetKnowledgeStats shape.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store { return &Store{db: db} }

func scanLearning(row interface{ Scan(...any) error }) (*Learning, error) {
	var l Learning
	var sourceRef, category sql.NullString
	var keywordsJSON string
	var lastUsedAt sql.NullString
	var outcomeScore sql.NullFloat64
	var embedding []byte
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	if err := row.Scan(&l.ID, &l.Content, &l.SourceType, &sourceRef, &keywordsJSON, &category,
		&l.UsageCount, &lastUsedAt, &outcomeScore, &embedding, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if sourceRef.Valid {
		l.SourceRef = &sourceRef.String
	}
	if category.Valid {
		l.Category = &category.String
	}
	_ = json.Unmarshal([]byte(keywordsJSON), &l.Keywords)
	if lastUsedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastUsedAt.String)
		if err == nil {
			l.LastUsedAt = &t
		}
	}
	if outcomeScore.Valid {
		l.OutcomeScore = &outcomeScore.Float64
	}
	if len(embedding) > 0 {
		l.Embedding = decodeEmbedding(embedding)
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if deletedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err == nil {
			l.DeletedAt = &t
		}
	}
	return &l, nil
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out
}

// Create persists content and its full-text index entry in one
// transaction, per §4.5's "the full-text index is updated in the same
// transaction as the row insert."
func (s *Store) Create(l *Learning) error {
	if strings.TrimSpace(l.Content) == "" {
		return txerrors.New(txerrors.Validation, "learning content must not be empty")
	}
	if l.SourceType == "" {
		l.SourceType = DefaultSourceType
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now

	return s.db.WithTx(func(tx *sql.Tx) error {
		keywordsJSON, _ := json.Marshal(l.Keywords)
		var sourceRef, category any
		if l.SourceRef != nil {
			sourceRef = *l.SourceRef
		}
		if l.Category != nil {
			category = *l.Category
		}
		var outcomeScore any
		if l.OutcomeScore != nil {
			outcomeScore = *l.OutcomeScore
		}
		var embedding any
		if len(l.Embedding) > 0 {
			embedding = encodeEmbedding(l.Embedding)
		}
		res, err := tx.Exec(`INSERT INTO learnings(content, source_type, source_ref, keywords, category,
			usage_count, last_used_at, outcome_score, embedding, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			l.Content, l.SourceType, sourceRef, string(keywordsJSON), category, 0, nil,
			outcomeScore, embedding, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return txerrors.WrapDB(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return txerrors.WrapDB(err)
		}
		l.ID = id
		return nil
	})
}

func (s *Store) Get(id int64) (*Learning, error) {
	row := s.db.QueryRow(`SELECT `+learningColumns+` FROM learnings WHERE id = ? AND deleted_at IS NULL`, id)
	l, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "learning not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return l, nil
}

// Recent returns the N most recently created learnings, used as the
// empty-query fallback per §9's boundary-behaviour note.
func (s *Store) Recent(limit int) ([]*Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT `+learningColumns+` FROM learnings
		WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	var out []*Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, txerrors.WrapDB(err)
		}
		out = append(out, l)
	}
	return out, txerrors.WrapDB(rows.Err())
}

func (s *Store) IncrementUseCount(id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`UPDATE learnings SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?`, now, id)
	return txerrors.WrapDB(err)
}

func (s *Store) SetOutcomeScore(id int64, score float64) error {
	_, err := s.db.Exec(`UPDATE learnings SET outcome_score = ?, updated_at = ? WHERE id = ?`,
		score, time.Now().UTC().Format(time.RFC3339Nano), id)
	return txerrors.WrapDB(err)
}

func (s *Store) Delete(id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`UPDATE learnings SET deleted_at = ? WHERE id = ?`, now, id)
	return txerrors.WrapDB(err)
}

// BM25Hit is one lexical-search result: a learning id and its raw BM25
// score (higher is more relevant).
type BM25Hit struct {
	ID    int64
	Score float64
}

// SearchBM25 runs query against the FTS5 index, returning up to limit
// hits ordered by descending BM25 score. Tokens are quoted and OR-joined
// so punctuation in the query can't break FTS5's MATCH syntax.
func (s *Store) SearchBM25(query string, limit int) ([]BM25Hit, error) {
	tokens := tokenizeForMatch(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	matchExpr := strings.Join(tokens, " OR ")

	rows, err := s.db.Query(`
		SELECT l.id, -bm25(learnings_fts) AS score
		FROM learnings_fts
		JOIN learnings l ON l.id = learnings_fts.rowid
		WHERE learnings_fts MATCH ? AND l.deleted_at IS NULL
		ORDER BY score DESC
		LIMIT ?`, matchExpr, limit)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	var out []BM25Hit
	for rows.Next() {
		var h BM25Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, txerrors.WrapDB(err)
		}
		out = append(out, h)
	}
	return out, txerrors.WrapDB(rows.Err())
}

func tokenizeForMatch(query string) []string {
	var tokens []string
	for _, t := range strings.Fields(query) {
		clean := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
				return r
			}
			return -1
		}, t)
		if clean != "" {
			tokens = append(tokens, `"`+clean+`"`)
		}
	}
	return tokens
}

func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{ByCategory: map[string]int{}}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM learnings WHERE deleted_at IS NULL`).Scan(&stats.TotalLearnings); err != nil {
		return nil, txerrors.WrapDB(err)
	}
	rows, err := s.db.Query(`SELECT COALESCE(category, ''), COUNT(*) FROM learnings
		WHERE deleted_at IS NULL GROUP BY category`)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, txerrors.WrapDB(err)
		}
		if cat != "" {
			stats.ByCategory[cat] = n
		}
	}
	return stats, txerrors.WrapDB(rows.Err())
}
