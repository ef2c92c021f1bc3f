package anchors

import (
	"database/sql"
	"time"

	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

const anchorColumns = `id, learning_id, anchor_type, file_path, anchor_value, content_hash,
	content_preview, symbol, line_start, line_end, status, pinned, verified_at, created_at`

// Store is the SQLite-backed anchor and invalidation-log repository.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store { return &Store{db: db} }

func scanAnchor(row interface{ Scan(...any) error }) (*Anchor, error) {
	var a Anchor
	var value string
	var contentHash, contentPreview, symbol sql.NullString
	var lineStart, lineEnd sql.NullInt64
	var pinned int
	var verifiedAt sql.NullString
	var createdAt string
	if err := row.Scan(&a.ID, &a.LearningID, &a.Type, &a.FilePath, &value, &contentHash,
		&contentPreview, &symbol, &lineStart, &lineEnd, &a.Status, &pinned, &verifiedAt, &createdAt); err != nil {
		return nil, err
	}
	a.Value = value
	if contentHash.Valid {
		a.ContentHash = &contentHash.String
	}
	if contentPreview.Valid {
		a.ContentPreview = &contentPreview.String
	}
	if symbol.Valid {
		a.Symbol = &symbol.String
	}
	if lineStart.Valid {
		v := int(lineStart.Int64)
		a.LineStart = &v
	}
	if lineEnd.Valid {
		v := int(lineEnd.Int64)
		a.LineEnd = &v
	}
	a.Pinned = pinned != 0
	if verifiedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, verifiedAt.String)
		if err == nil {
			a.VerifiedAt = &t
		}
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

func (s *Store) Create(a *Anchor) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	if a.Status == "" {
		a.Status = StatusValid
	}
	res, err := s.db.Exec(`INSERT INTO anchors(learning_id, anchor_type, file_path, anchor_value,
		content_hash, content_preview, symbol, line_start, line_end, status, pinned, verified_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.LearningID, a.Type, a.FilePath, a.Value, nullableStr(a.ContentHash), nullableStr(a.ContentPreview),
		nullableStr(a.Symbol), nullableInt(a.LineStart), nullableInt(a.LineEnd), a.Status, boolToInt(a.Pinned),
		nullableTime(a.VerifiedAt), now.Format(time.RFC3339Nano))
	if err != nil {
		return txerrors.WrapDB(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return txerrors.WrapDB(err)
	}
	a.ID = id
	return nil
}

func (s *Store) Get(id int64) (*Anchor, error) {
	row := s.db.QueryRow(`SELECT `+anchorColumns+` FROM anchors WHERE id = ?`, id)
	a, err := scanAnchor(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "anchor not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return a, nil
}

func (s *Store) ListForLearning(learningID int64) ([]*Anchor, error) {
	rows, err := s.db.Query(`SELECT `+anchorColumns+` FROM anchors WHERE learning_id = ? ORDER BY id`, learningID)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	var out []*Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, txerrors.WrapDB(err)
		}
		out = append(out, a)
	}
	return out, txerrors.WrapDB(rows.Err())
}

// ListPrunable returns invalid anchors older than olderThan that are not
// pinned; pinned anchors and any anchor with status valid or drifted are
// never eligible.
func (s *Store) ListPrunable(olderThan time.Time) ([]*Anchor, error) {
	rows, err := s.db.Query(`SELECT `+anchorColumns+` FROM anchors
		WHERE status = ? AND pinned = 0 AND created_at < ?`,
		StatusInvalid, olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	var out []*Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, txerrors.WrapDB(err)
		}
		out = append(out, a)
	}
	return out, txerrors.WrapDB(rows.Err())
}

func (s *Store) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM anchors WHERE id = ?`, id)
	return txerrors.WrapDB(err)
}

// UpdateVerification persists a verification outcome: new status, and
// (for hash anchors that self-healed) the refreshed hash/preview.
func (s *Store) UpdateVerification(a *Anchor, now time.Time) error {
	_, err := s.db.Exec(`UPDATE anchors SET status = ?, content_hash = ?, content_preview = ?, verified_at = ?
		WHERE id = ?`,
		a.Status, nullableStr(a.ContentHash), nullableStr(a.ContentPreview), now.Format(time.RFC3339Nano), a.ID)
	return txerrors.WrapDB(err)
}

func (s *Store) AppendInvalidation(e *InvalidationEntry) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	res, err := s.db.Exec(`INSERT INTO invalidation_log(anchor_id, old_status, new_status, reason,
		detected_by, old_content_hash, new_content_hash, similarity_score, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.AnchorID, e.OldStatus, e.NewStatus, e.Reason, e.DetectedBy,
		nullableStr(e.OldContentHash), nullableStr(e.NewContentHash), nullableFloat(e.SimilarityScore),
		now.Format(time.RFC3339Nano))
	if err != nil {
		return txerrors.WrapDB(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return txerrors.WrapDB(err)
	}
	e.ID = id
	return nil
}

// LatestInvalidation returns the most recent log entry for anchorID, or
// nil if there is none.
func (s *Store) LatestInvalidation(anchorID int64) (*InvalidationEntry, error) {
	row := s.db.QueryRow(`SELECT id, anchor_id, old_status, new_status, reason, detected_by,
		old_content_hash, new_content_hash, similarity_score, created_at
		FROM invalidation_log WHERE anchor_id = ? ORDER BY id DESC LIMIT 1`, anchorID)
	var e InvalidationEntry
	var oldHash, newHash sql.NullString
	var similarity sql.NullFloat64
	var createdAt string
	err := row.Scan(&e.ID, &e.AnchorID, &e.OldStatus, &e.NewStatus, &e.Reason, &e.DetectedBy,
		&oldHash, &newHash, &similarity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	if oldHash.Valid {
		e.OldContentHash = &oldHash.String
	}
	if newHash.Valid {
		e.NewContentHash = &newHash.String
	}
	if similarity.Valid {
		e.SimilarityScore = &similarity.Float64
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}

// PriorInvalidation returns the entry before the most recent one, which
// restore(id) rolls back to.
func (s *Store) PriorInvalidation(anchorID int64) (*InvalidationEntry, error) {
	row := s.db.QueryRow(`SELECT id, anchor_id, old_status, new_status, reason, detected_by,
		old_content_hash, new_content_hash, similarity_score, created_at
		FROM invalidation_log WHERE anchor_id = ? ORDER BY id DESC LIMIT 1 OFFSET 1`, anchorID)
	var e InvalidationEntry
	var oldHash, newHash sql.NullString
	var similarity sql.NullFloat64
	var createdAt string
	err := row.Scan(&e.ID, &e.AnchorID, &e.OldStatus, &e.NewStatus, &e.Reason, &e.DetectedBy,
		&oldHash, &newHash, &similarity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	if oldHash.Valid {
		e.OldContentHash = &oldHash.String
	}
	if newHash.Valid {
		e.NewContentHash = &newHash.String
	}
	if similarity.Valid {
		e.SimilarityScore = &similarity.Float64
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
