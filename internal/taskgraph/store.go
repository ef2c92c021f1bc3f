package taskgraph

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

// Store is the SQLite-backed repository for tasks and their dependency
// edges, grounded on internal/tasks/store.go's upsert-and-scan style.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var parentID, completedAt sql.NullString
	var metadataJSON, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Score,
		&parentID, &metadataJSON, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err == nil {
			t.CompletedAt = &ts
		}
	}
	t.Metadata = map[string]any{}
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &t.Metadata)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

const taskColumns = `id, title, description, status, score, parent_id, metadata, created_at, updated_at, completed_at`

func (s *Store) insert(tx *sql.Tx, t *Task) error {
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	var parentID any
	if t.ParentID != nil {
		parentID = *t.ParentID
	}
	_, err = tx.Exec(`INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Score, parentID,
		string(metadataJSON), t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano), completedAt)
	return err
}

func (s *Store) GetTx(tx *sql.Tx, id string) (*Task, error) {
	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "task not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return t, nil
}

func (s *Store) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "task not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return t, nil
}

// updateTx rewrites every column; callers compute the merged Task first.
func (s *Store) updateTx(tx *sql.Tx, t *Task) error {
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	var parentID any
	if t.ParentID != nil {
		parentID = *t.ParentID
	}
	_, err = tx.Exec(`UPDATE tasks SET title=?, description=?, status=?, score=?, parent_id=?,
		metadata=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, t.Description, string(t.Status), t.Score, parentID,
		string(metadataJSON), t.UpdatedAt.UTC().Format(time.RFC3339Nano), completedAt, t.ID)
	return err
}

func (s *Store) deleteTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM task_dependencies WHERE blocker_id = ? OR blocked_id = ?`, id, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM blocked_tasks_cache WHERE blocked_id = ?`, id); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *Store) childCount(tx *sql.Tx, id string) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM tasks WHERE parent_id = ?`, id).Scan(&n)
	return n, err
}

func (s *Store) blockerIDs(q interface {
	Query(query string, args ...any) (*sql.Rows, error)
}, id string) ([]string, error) {
	rows, err := q.Query(`SELECT blocker_id FROM task_dependencies WHERE blocked_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) blockedIDs(id string) ([]string, error) {
	rows, err := s.db.Query(`SELECT blocked_id FROM task_dependencies WHERE blocker_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) childIDs(id string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM tasks WHERE parent_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// reachable reports whether `to` is reachable from `from` by walking
// blocker edges recursively: from's blockers, their blockers, and so on.
// Used by addBlocker's cycle check.
func (s *Store) reachable(tx *sql.Tx, from, to string) (bool, error) {
	rows, err := tx.Query(`
		WITH RECURSIVE closure(id) AS (
			SELECT blocker_id FROM task_dependencies WHERE blocked_id = ?
			UNION
			SELECT td.blocker_id FROM task_dependencies td
			JOIN closure c ON td.blocked_id = c.id
		)
		SELECT 1 FROM closure WHERE id = ? LIMIT 1`, from, to)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *Store) rebuildBlockedCache(tx *sql.Tx, blockedID string) error {
	var blockerCount, doneCount int
	err := tx.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN t.status = 'done' THEN 1 ELSE 0 END), 0)
		FROM task_dependencies td JOIN tasks t ON t.id = td.blocker_id
		WHERE td.blocked_id = ?`, blockedID).Scan(&blockerCount, &doneCount)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO blocked_tasks_cache(blocked_id, blocker_count, done_blocker_count)
		VALUES (?, ?, ?)
		ON CONFLICT(blocked_id) DO UPDATE SET blocker_count=excluded.blocker_count,
		done_blocker_count=excluded.done_blocker_count`, blockedID, blockerCount, doneCount)
	return err
}

// ancestorsOf walks the parent_id chain upward, bounded at maxDepth rows.
func (s *Store) ancestorsOf(id string, maxDepth int) ([]string, error) {
	rows, err := s.db.Query(`
		WITH RECURSIVE up(id, parent_id, depth) AS (
			SELECT id, parent_id, 0 FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id, t.parent_id, up.depth + 1
			FROM tasks t JOIN up ON t.id = up.parent_id
			WHERE up.depth < ?
		)
		SELECT id FROM up WHERE id != ?`, id, maxDepth, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	seen := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

// descendantsOf walks the parent_id tree downward, bounded at maxDepth.
func (s *Store) descendantsOf(id string, maxDepth int) ([]string, error) {
	rows, err := s.db.Query(`
		WITH RECURSIVE down(id, depth) AS (
			SELECT id, 0 FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id, down.depth + 1
			FROM tasks t JOIN down ON t.parent_id = down.id
			WHERE down.depth < ?
		)
		SELECT id FROM down WHERE id != ?`, id, maxDepth, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	seen := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func buildListQuery(f ListFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`)
	var args []any
	if f.Status != nil {
		b.WriteString(` AND status = ?`)
		args = append(args, string(*f.Status))
	}
	if f.ParentID != nil {
		b.WriteString(` AND parent_id = ?`)
		args = append(args, *f.ParentID)
	}
	if f.Search != "" {
		b.WriteString(` AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if f.Cursor != nil {
		b.WriteString(` AND (score < ? OR (score = ? AND id > ?))`)
		args = append(args, f.Cursor.Score, f.Cursor.Score, f.Cursor.ID)
	}
	b.WriteString(` ORDER BY score DESC, id ASC`)
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	b.WriteString(fmt.Sprintf(` LIMIT %d`, limit+1))
	return b.String(), args
}
