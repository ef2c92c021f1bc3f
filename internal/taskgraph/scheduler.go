package taskgraph

import (
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

// Scheduler is the ready-task selector: C4 of the spec. It shares the
// engine's store rather than duplicating query logic, the way the
// teacher's in-memory Queue and SQL Store both sit on top of the same
// Task type in internal/tasks.
type Scheduler struct {
	db    *storage.DB
	store *Store
}

func NewScheduler(db *storage.DB) *Scheduler {
	return &Scheduler{db: db, store: NewStore(db)}
}

// GetReady returns the highest-scored workable tasks whose every blocker
// is done, ordered score DESC then id ASC. When excludeClaimed is true
// (the orchestrator's default) tasks under an active claim are skipped via
// a NOT EXISTS probe against the claims table's partial unique index.
func (s *Scheduler) GetReady(limit int, excludeClaimed bool) ([]*WithDeps, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	query := `
		SELECT t.id FROM tasks t
		LEFT JOIN blocked_tasks_cache c ON c.blocked_id = t.id
		WHERE t.status IN ('backlog', 'ready', 'planning')
		  AND (c.blocked_id IS NULL OR c.blocker_count = c.done_blocker_count)`
	if excludeClaimed {
		query += ` AND NOT EXISTS (SELECT 1 FROM claims cl WHERE cl.task_id = t.id AND cl.status = 'active')`
	}
	query += ` ORDER BY t.score DESC, t.id ASC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, txerrors.WrapDB(err)
		}
		ids = append(ids, id)
	}
	rerr := rows.Err()
	rows.Close()
	if rerr != nil {
		return nil, txerrors.WrapDB(rerr)
	}

	engine := &Engine{db: s.db, store: s.store}
	out := make([]*WithDeps, 0, len(ids))
	for _, id := range ids {
		wd, err := engine.GetWithDeps(id)
		if err != nil {
			if txerrors.Is(err, txerrors.NotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, wd)
	}
	return out, nil
}

// GetBlocking returns the tasks id blocks, used after a completion to
// recompute which tasks have just become ready.
func (s *Scheduler) GetBlocking(id string) ([]string, error) {
	ids, err := s.store.blockedIDs(id)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return ids, nil
}

// IsReady resolves readiness with a single blocker lookup.
func (s *Scheduler) IsReady(id string) (bool, error) {
	engine := &Engine{db: s.db, store: s.store}
	return engine.IsReady(id)
}
