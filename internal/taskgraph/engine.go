package taskgraph

import (
	"database/sql"
	"strings"
	"time"

	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

const (
	maxParentDepth     = 10
	maxAncestorDepth   = 100
	maxDescendantDepth = 10
)

// Engine is the task graph service: C3 of the spec.
type Engine struct {
	db    *storage.DB
	store *Store
}

func NewEngine(db *storage.DB) *Engine {
	return &Engine{db: db, store: NewStore(db)}
}

// CreateInput carries the caller-supplied fields for Create; zero values
// take the documented defaults.
type CreateInput struct {
	Title       string
	Description string
	Score       *int
	ParentID    *string
	Metadata    map[string]any
	Status      *Status
}

func (e *Engine) Create(in CreateInput) (*Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, txerrors.New(txerrors.Validation, "title must not be empty")
	}
	score := 500
	if in.Score != nil {
		score = *in.Score
	}
	if score < 0 || score > 1000 {
		return nil, txerrors.New(txerrors.Validation, "score must be in [0,1000]")
	}
	status := StatusBacklog
	if in.Status != nil {
		status = *in.Status
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := time.Now().UTC()
	task := &Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		Score:       score,
		ParentID:    in.ParentID,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == StatusDone {
		task.CompletedAt = &now
	}

	err := e.db.WithTx(func(tx *sql.Tx) error {
		if task.ParentID != nil {
			if _, err := e.store.GetTx(tx, *task.ParentID); err != nil {
				return err
			}
		}
		for attempt := 0; attempt < 5; attempt++ {
			id, err := newTaskID()
			if err != nil {
				return err
			}
			task.ID = id
			if err := e.store.insert(tx, task); err != nil {
				if isUniqueViolation(err) {
					continue
				}
				return txerrors.WrapDB(err)
			}
			return nil
		}
		return txerrors.Wrap(txerrors.Database, "failed to allocate a unique task id", nil)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (e *Engine) Get(id string) (*Task, error) {
	return e.store.Get(id)
}

func (e *Engine) GetWithDeps(id string) (*WithDeps, error) {
	task, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	blockers, err := e.store.blockerIDs(e.db.DB, id)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	blocked, err := e.store.blockedIDs(id)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	children, err := e.store.childIDs(id)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	ready, err := e.isReadyGivenBlockers(task, blockers)
	if err != nil {
		return nil, err
	}
	return &WithDeps{Task: *task, BlockerIDs: blockers, BlockedIDs: blocked, ChildIDs: children, IsReady: ready}, nil
}

func (e *Engine) isReadyGivenBlockers(t *Task, blockerIDs []string) (bool, error) {
	if !t.Status.Workable() {
		return false, nil
	}
	for _, b := range blockerIDs {
		bt, err := e.store.Get(b)
		if err != nil {
			if txerrors.Is(err, txerrors.NotFound) {
				continue
			}
			return false, err
		}
		if bt.Status != StatusDone {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) IsReady(id string) (bool, error) {
	task, err := e.store.Get(id)
	if err != nil {
		return false, err
	}
	blockers, err := e.store.blockerIDs(e.db.DB, id)
	if err != nil {
		return false, txerrors.WrapDB(err)
	}
	return e.isReadyGivenBlockers(task, blockers)
}

// List fetches up to filter.Limit+1 rows ordered by score DESC, id ASC and
// returns at most filter.Limit; the +1 row only sets hasMore.
func (e *Engine) List(f ListFilter) (items []*Task, nextCursor string, hasMore bool, err error) {
	query, args := buildListQuery(f)
	rows, qerr := e.db.Query(query, args...)
	if qerr != nil {
		return nil, "", false, txerrors.WrapDB(qerr)
	}
	defer rows.Close()

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	for rows.Next() {
		t, serr := scanTask(rows)
		if serr != nil {
			return nil, "", false, txerrors.WrapDB(serr)
		}
		items = append(items, t)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, "", false, txerrors.WrapDB(rerr)
	}

	if len(items) > limit {
		hasMore = true
		items = items[:limit]
	}
	if len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = EncodeCursor(last.Score, last.ID)
	}
	return items, nextCursor, hasMore, nil
}

// UpdatePatch carries the optional fields Update() may change.
type UpdatePatch struct {
	Title       *string
	Description *string
	Status      *Status
	Score       *int
	ParentID    *string
	Metadata    map[string]any
	// ExpectedUpdatedAt, when set, enables optimistic locking: Update
	// fails with StaleData if the stored updated_at is newer.
	ExpectedUpdatedAt *time.Time
}

func (e *Engine) Update(id string, patch UpdatePatch) (*Task, error) {
	var result *Task
	err := e.db.WithTx(func(tx *sql.Tx) error {
		current, err := e.store.GetTx(tx, id)
		if err != nil {
			return err
		}
		if patch.ExpectedUpdatedAt != nil && current.UpdatedAt.After(*patch.ExpectedUpdatedAt) {
			return txerrors.New(txerrors.StaleData, "task was modified since it was last read")
		}

		if patch.Status != nil && *patch.Status != current.Status {
			if !canTransition(current.Status, *patch.Status) {
				return txerrors.New(txerrors.IllegalTransition,
					"cannot transition from "+string(current.Status)+" to "+string(*patch.Status))
			}
			current.Status = *patch.Status
			now := time.Now().UTC()
			if current.Status == StatusDone {
				current.CompletedAt = &now
			} else {
				current.CompletedAt = nil
			}
		}
		if patch.Title != nil {
			if strings.TrimSpace(*patch.Title) == "" {
				return txerrors.New(txerrors.Validation, "title must not be empty")
			}
			current.Title = *patch.Title
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Score != nil {
			if *patch.Score < 0 || *patch.Score > 1000 {
				return txerrors.New(txerrors.Validation, "score must be in [0,1000]")
			}
			current.Score = *patch.Score
		}
		if patch.ParentID != nil {
			if err := e.validateReparent(tx, id, *patch.ParentID); err != nil {
				return err
			}
			current.ParentID = patch.ParentID
		}
		if patch.Metadata != nil {
			current.Metadata = patch.Metadata
		}
		current.UpdatedAt = time.Now().UTC()

		if err := e.store.updateTx(tx, current); err != nil {
			return txerrors.WrapDB(err)
		}
		if patch.Status != nil {
			blocked, err := e.store.blockedIDs(id)
			if err != nil {
				return txerrors.WrapDB(err)
			}
			for _, b := range blocked {
				if err := e.store.rebuildBlockedCache(tx, b); err != nil {
					return txerrors.WrapDB(err)
				}
			}
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateReparent rejects re-parenting a task to its own descendant,
// which would make the parent chain cyclic.
func (e *Engine) validateReparent(tx *sql.Tx, id, newParentID string) error {
	if newParentID == "" {
		return nil
	}
	if newParentID == id {
		return txerrors.New(txerrors.Validation, "a task cannot be its own parent")
	}
	if _, err := e.store.GetTx(tx, newParentID); err != nil {
		return err
	}
	descendants, err := e.descendantsOfTx(tx, id, maxDescendantDepth)
	if err != nil {
		return txerrors.WrapDB(err)
	}
	for _, d := range descendants {
		if d == newParentID {
			return txerrors.New(txerrors.Validation, "cannot re-parent a task to its own descendant")
		}
	}
	return nil
}

func (e *Engine) descendantsOfTx(tx *sql.Tx, id string, maxDepth int) ([]string, error) {
	rows, err := tx.Query(`
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
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (e *Engine) Remove(id string, cascade bool) error {
	return e.db.WithTx(func(tx *sql.Tx) error {
		if _, err := e.store.GetTx(tx, id); err != nil {
			return err
		}
		n, err := e.store.childCount(tx, id)
		if err != nil {
			return txerrors.WrapDB(err)
		}
		if n > 0 && !cascade {
			return txerrors.New(txerrors.HasChildren, "task has children; pass cascade=true to delete them")
		}
		if n > 0 && cascade {
			children, err := e.childIDsTx(tx, id)
			if err != nil {
				return txerrors.WrapDB(err)
			}
			for _, c := range children {
				if err := e.removeRecursive(tx, c); err != nil {
					return err
				}
			}
		}
		if err := e.store.deleteTx(tx, id); err != nil {
			return txerrors.WrapDB(err)
		}
		return nil
	})
}

func (e *Engine) removeRecursive(tx *sql.Tx, id string) error {
	children, err := e.childIDsTx(tx, id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := e.removeRecursive(tx, c); err != nil {
			return err
		}
	}
	return e.store.deleteTx(tx, id)
}

func (e *Engine) childIDsTx(tx *sql.Tx, id string) ([]string, error) {
	rows, err := tx.Query(`SELECT id FROM tasks WHERE parent_id = ?`, id)
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

// AddBlocker records that blockerID must complete before taskID is
// workable, rejecting self-edges and edges that would create a cycle.
func (e *Engine) AddBlocker(taskID, blockerID string) error {
	if taskID == blockerID {
		return txerrors.New(txerrors.Validation, "a task cannot block itself")
	}
	return e.db.WithTx(func(tx *sql.Tx) error {
		if _, err := e.store.GetTx(tx, taskID); err != nil {
			return err
		}
		if _, err := e.store.GetTx(tx, blockerID); err != nil {
			return err
		}
		cyclical, err := e.store.reachable(tx, blockerID, taskID)
		if err != nil {
			return txerrors.WrapDB(err)
		}
		if cyclical {
			return txerrors.New(txerrors.CircularDependency, "adding this blocker would create a cycle")
		}
		_, err = tx.Exec(`INSERT INTO task_dependencies(blocker_id, blocked_id) VALUES (?, ?)
			ON CONFLICT(blocker_id, blocked_id) DO NOTHING`, blockerID, taskID)
		if err != nil {
			return txerrors.WrapDB(err)
		}
		if err := e.store.rebuildBlockedCache(tx, taskID); err != nil {
			return txerrors.WrapDB(err)
		}
		return nil
	})
}

func (e *Engine) RemoveBlocker(taskID, blockerID string) error {
	return e.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM task_dependencies WHERE blocker_id = ? AND blocked_id = ?`, blockerID, taskID); err != nil {
			return txerrors.WrapDB(err)
		}
		if err := e.store.rebuildBlockedCache(tx, taskID); err != nil {
			return txerrors.WrapDB(err)
		}
		return nil
	})
}

func (e *Engine) GetChildren(id string) ([]*Task, error) {
	ids, err := e.store.childIDs(id)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return e.hydrate(ids)
}

func (e *Engine) GetAncestors(id string) ([]*Task, error) {
	ids, err := e.store.ancestorsOf(id, maxAncestorDepth)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return e.hydrate(ids)
}

func (e *Engine) GetDescendants(id string) ([]*Task, error) {
	ids, err := e.store.descendantsOf(id, maxDescendantDepth)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return e.hydrate(ids)
}

func (e *Engine) hydrate(ids []string) ([]*Task, error) {
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := e.store.Get(id)
		if err != nil {
			if txerrors.Is(err, txerrors.NotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// TreeNode is one level of GetTree's recursive result.
type TreeNode struct {
	Task     *Task
	Children []*TreeNode
}

// GetTree builds the full descendant subtree rooted at id, defensively
// tracking visited ids so a self-referencing row can't loop forever.
func (e *Engine) GetTree(id string) (*TreeNode, error) {
	root, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{id: true}
	return e.buildTree(root, visited, 0)
}

func (e *Engine) buildTree(t *Task, visited map[string]bool, depth int) (*TreeNode, error) {
	node := &TreeNode{Task: t}
	if depth >= maxDescendantDepth {
		return node, nil
	}
	childIDs, err := e.store.childIDs(t.ID)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	for _, cid := range childIDs {
		if visited[cid] {
			continue
		}
		visited[cid] = true
		child, err := e.store.Get(cid)
		if err != nil {
			if txerrors.Is(err, txerrors.NotFound) {
				continue
			}
			return nil, err
		}
		childNode, err := e.buildTree(child, visited, depth+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}
