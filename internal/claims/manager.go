package claims

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

// Manager is the claim manager and worker registry, grounded on
// internal/memory/agent_control.go's RegisterAgent/UpdateHeartbeat/
// GetStaleAgents and internal/persistence/store.go's liveness sweep.
type Manager struct {
	db       *storage.DB
	poolSize int
	// missedThreshold and heartbeatInterval drive the default liveness
	// rule: dead when now - lastHeartbeatAt > heartbeatInterval * missedThreshold.
	heartbeatInterval time.Duration
	missedThreshold   int
}

func NewManager(db *storage.DB, poolSize int, heartbeatInterval time.Duration, missedThreshold int) *Manager {
	if missedThreshold <= 0 {
		missedThreshold = 3
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}
	return &Manager{db: db, poolSize: poolSize, heartbeatInterval: heartbeatInterval, missedThreshold: missedThreshold}
}

// Register assigns a worker id if hints.ID is empty, fails with
// PoolAtCapacity once the alive-worker count reaches the configured pool
// size.
func (m *Manager) Register(hints Worker) (*Worker, error) {
	var result *Worker
	err := m.db.WithTx(func(tx *sql.Tx) error {
		if m.poolSize > 0 {
			var alive int
			err := tx.QueryRow(`SELECT COUNT(*) FROM workers WHERE status != 'dead'`).Scan(&alive)
			if err != nil {
				return txerrors.WrapDB(err)
			}
			if alive >= m.poolSize {
				return txerrors.New(txerrors.PoolAtCapacity, "worker pool is at capacity")
			}
		}
		id := hints.ID
		if id == "" {
			id = "worker-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		}
		w := &Worker{
			ID:           id,
			Hostname:     hints.Hostname,
			PID:          hints.PID,
			Capabilities: hints.Capabilities,
			Status:       WorkerStarting,
			RegisteredAt: time.Now().UTC(),
			Metadata:     map[string]any{},
		}
		capsJSON, _ := json.Marshal(w.Capabilities)
		metaJSON, _ := json.Marshal(w.Metadata)
		var pid any
		if w.PID != nil {
			pid = *w.PID
		}
		_, err := tx.Exec(`INSERT INTO workers(id, hostname, pid, capabilities, status, registered_at, metadata)
			VALUES (?,?,?,?,?,?,?)`,
			w.ID, w.Hostname, pid, string(capsJSON), string(w.Status), w.RegisteredAt.Format(time.RFC3339Nano), string(metaJSON))
		if err != nil {
			return txerrors.WrapDB(err)
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanWorker(row interface{ Scan(...any) error }) (*Worker, error) {
	var w Worker
	var pid sql.NullInt64
	var capsJSON, metaJSON string
	var registeredAt string
	var lastHeartbeatAt, currentTaskID sql.NullString
	if err := row.Scan(&w.ID, &w.Hostname, &pid, &capsJSON, &w.Status, &registeredAt,
		&lastHeartbeatAt, &currentTaskID, &metaJSON); err != nil {
		return nil, err
	}
	if pid.Valid {
		v := int(pid.Int64)
		w.PID = &v
	}
	_ = json.Unmarshal([]byte(capsJSON), &w.Capabilities)
	w.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(metaJSON), &w.Metadata)
	w.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)
	if lastHeartbeatAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastHeartbeatAt.String)
		if err == nil {
			w.LastHeartbeatAt = &t
		}
	}
	if currentTaskID.Valid {
		w.CurrentTaskID = &currentTaskID.String
	}
	return &w, nil
}

const workerColumns = `id, hostname, pid, capabilities, status, registered_at, last_heartbeat_at, current_task_id, metadata`

func (m *Manager) GetWorker(id string) (*Worker, error) {
	row := m.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "worker not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return w, nil
}

// Heartbeat overwrites last_heartbeat_at/status and, when supplied,
// current_task_id; metrics are stashed under metadata.lastMetrics.
func (m *Manager) Heartbeat(in HeartbeatInput) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		w, err := m.getWorkerTx(tx, in.WorkerID)
		if err != nil {
			return err
		}
		status := w.Status
		if in.Status != nil {
			status = *in.Status
		}
		taskID := w.CurrentTaskID
		if in.CurrentTaskID != nil {
			taskID = in.CurrentTaskID
		}
		if in.Metrics != nil {
			w.Metadata["lastMetrics"] = in.Metrics
		}
		metaJSON, _ := json.Marshal(w.Metadata)
		var taskIDVal any
		if taskID != nil {
			taskIDVal = *taskID
		}
		_, err = tx.Exec(`UPDATE workers SET status=?, last_heartbeat_at=?, current_task_id=?, metadata=? WHERE id=?`,
			string(status), time.Now().UTC().Format(time.RFC3339Nano), taskIDVal, string(metaJSON), in.WorkerID)
		if err != nil {
			return txerrors.WrapDB(err)
		}
		return nil
	})
}

func (m *Manager) getWorkerTx(tx *sql.Tx, id string) (*Worker, error) {
	row := tx.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "worker not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return w, nil
}

// Acquire atomically inserts an active claim row; the unique partial
// index on claims(task_id) WHERE status='active' rejects a concurrent
// duplicate with AlreadyClaimed.
func (m *Manager) Acquire(taskID, workerID string) (*Claim, error) {
	var result *Claim
	err := m.db.WithTx(func(tx *sql.Tx) error {
		id := "claim-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		now := time.Now().UTC()
		_, err := tx.Exec(`INSERT INTO claims(id, task_id, worker_id, status, created_at) VALUES (?,?,?,?,?)`,
			id, taskID, workerID, string(ClaimActive), now.Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueViolation(err) {
				return txerrors.New(txerrors.AlreadyClaimed, "task already has an active claim")
			}
			return txerrors.WrapDB(err)
		}
		_, err = tx.Exec(`UPDATE workers SET status=?, current_task_id=? WHERE id=?`, string(WorkerBusy), taskID, workerID)
		if err != nil {
			return txerrors.WrapDB(err)
		}
		result = &Claim{ID: id, TaskID: taskID, WorkerID: workerID, Status: ClaimActive, CreatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Release is idempotent: transitions active -> released and clears the
// worker's current_task_id if it still matches the released claim.
func (m *Manager) Release(claimID string) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		var taskID, workerID string
		var status string
		err := tx.QueryRow(`SELECT task_id, worker_id, status FROM claims WHERE id = ?`, claimID).Scan(&taskID, &workerID, &status)
		if err == sql.ErrNoRows {
			return txerrors.New(txerrors.NotFound, "claim not found")
		}
		if err != nil {
			return txerrors.WrapDB(err)
		}
		if status == string(ClaimReleased) {
			return nil
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.Exec(`UPDATE claims SET status=?, released_at=? WHERE id=?`, string(ClaimReleased), now, claimID); err != nil {
			return txerrors.WrapDB(err)
		}
		_, err = tx.Exec(`UPDATE workers SET current_task_id=NULL, status=?
			WHERE id=? AND current_task_id=?`, string(WorkerIdle), workerID, taskID)
		return txerrors.WrapDB(err)
	})
}

// ReleaseByWorker bulk-releases every active claim held by workerID, used
// during deregistration and by the reaper.
func (m *Manager) ReleaseByWorker(workerID string) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM claims WHERE worker_id = ? AND status = 'active'`, workerID)
		if err != nil {
			return txerrors.WrapDB(err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return txerrors.WrapDB(err)
			}
			ids = append(ids, id)
		}
		rows.Close()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE claims SET status='released', released_at=? WHERE id=?`, now, id); err != nil {
				return txerrors.WrapDB(err)
			}
		}
		_, err = tx.Exec(`UPDATE workers SET current_task_id=NULL, status=? WHERE id=?`, string(WorkerIdle), workerID)
		return txerrors.WrapDB(err)
	})
}

// FindDead returns workers whose last heartbeat exceeds the configured
// liveness threshold, excluding workers already dead or stopping.
func (m *Manager) FindDead() ([]*Worker, error) {
	cutoffSeconds := int(m.heartbeatInterval.Seconds()) * m.missedThreshold
	rows, err := m.db.Query(`SELECT `+workerColumns+` FROM workers
		WHERE status NOT IN ('dead', 'stopping')
		  AND last_heartbeat_at IS NOT NULL
		  AND datetime(last_heartbeat_at) <= datetime('now', ?)`, "-"+itoa(cutoffSeconds)+" seconds")
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	var out []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, txerrors.WrapDB(err)
		}
		out = append(out, w)
	}
	return out, txerrors.WrapDB(rows.Err())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// MarkDead transitions a worker to dead. Callers follow with
// ReleaseByWorker.
func (m *Manager) MarkDead(workerID string) error {
	_, err := m.db.Exec(`UPDATE workers SET status=? WHERE id=?`, string(WorkerDead), workerID)
	return txerrors.WrapDB(err)
}
