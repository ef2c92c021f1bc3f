package runs

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/txerrors"
)

const runColumns = `id, agent_name, task_id, worker_id, pid, transcript_path, stdout_bytes,
	stderr_bytes, transcript_bytes, last_activity_at, last_check_at, status,
	exit_code, summary, error_message, created_at`

type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store { return &Store{db: db} }

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var taskID, workerID, transcriptPath, summary, errMsg sql.NullString
	var pid, exitCode sql.NullInt64
	var lastActivityAt, lastCheckAt sql.NullString
	var createdAt string
	if err := row.Scan(&r.ID, &r.AgentName, &taskID, &workerID, &pid, &transcriptPath,
		&r.StdoutBytes, &r.StderrBytes, &r.TranscriptBytes, &lastActivityAt, &lastCheckAt,
		&r.Status, &exitCode, &summary, &errMsg, &createdAt); err != nil {
		return nil, err
	}
	if taskID.Valid {
		r.TaskID = &taskID.String
	}
	if workerID.Valid {
		r.WorkerID = &workerID.String
	}
	if pid.Valid {
		v := int(pid.Int64)
		r.PID = &v
	}
	if transcriptPath.Valid {
		r.TranscriptPath = transcriptPath.String
	}
	if lastActivityAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastActivityAt.String)
		if err == nil {
			r.LastActivityAt = &t
		}
	}
	if lastCheckAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastCheckAt.String)
		if err == nil {
			r.LastCheckAt = &t
		}
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	if summary.Valid {
		r.Summary = summary.String
	}
	if errMsg.Valid {
		r.ErrorMessage = errMsg.String
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

func (s *Store) Create(r *Run) error {
	if r.ID == "" {
		r.ID = "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = StatusRunning
	}
	var taskID, workerID, pid any
	if r.TaskID != nil {
		taskID = *r.TaskID
	}
	if r.WorkerID != nil {
		workerID = *r.WorkerID
	}
	if r.PID != nil {
		pid = *r.PID
	}
	var lastActivityAt, lastCheckAt any
	if r.LastActivityAt != nil {
		lastActivityAt = r.LastActivityAt.UTC().Format(time.RFC3339Nano)
	}
	if r.LastCheckAt != nil {
		lastCheckAt = r.LastCheckAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(`INSERT INTO runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.AgentName, taskID, workerID, pid, r.TranscriptPath, r.StdoutBytes, r.StderrBytes,
		r.TranscriptBytes, lastActivityAt, lastCheckAt, string(r.Status), nil, r.Summary, r.ErrorMessage,
		r.CreatedAt.Format(time.RFC3339Nano))
	return txerrors.WrapDB(err)
}

func (s *Store) Get(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, txerrors.New(txerrors.NotFound, "run not found")
	}
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	return r, nil
}

// Heartbeat updates activity counters, grounded on the fire-and-forget
// heartbeat pattern from §5.
func (s *Store) Heartbeat(id string, stdoutDelta, stderrDelta, transcriptDelta int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`UPDATE runs SET stdout_bytes = stdout_bytes + ?, stderr_bytes = stderr_bytes + ?,
		transcript_bytes = transcript_bytes + ?, last_activity_at = ?, last_check_at = ?
		WHERE id = ?`, stdoutDelta, stderrDelta, transcriptDelta, now, now, id)
	return txerrors.WrapDB(err)
}

func (s *Store) UpdateStatus(id string, status Status, exitCode *int, summary, errorMessage string) error {
	var exitCodeVal any
	if exitCode != nil {
		exitCodeVal = *exitCode
	}
	_, err := s.db.Exec(`UPDATE runs SET status=?, exit_code=?, summary=?, error_message=? WHERE id=?`,
		string(status), exitCodeVal, summary, errorMessage, id)
	return txerrors.WrapDB(err)
}

func (s *Store) updateStatusTx(tx *sql.Tx, id string, status Status, errorMessage string) error {
	_, err := tx.Exec(`UPDATE runs SET status=?, error_message=? WHERE id=?`, string(status), errorMessage, id)
	return err
}

func (s *Store) List(status *Status, agent *string, taskID *string) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if status != nil {
		q += ` AND status = ?`
		args = append(args, string(*status))
	}
	if agent != nil {
		q += ` AND agent_name = ?`
		args = append(args, *agent)
	}
	if taskID != nil {
		q += ` AND task_id = ?`
		args = append(args, *taskID)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, txerrors.WrapDB(err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, txerrors.WrapDB(err)
		}
		out = append(out, r)
	}
	return out, txerrors.WrapDB(rows.Err())
}

// listRunningTx returns every run in status 'running', read through tx.
func (s *Store) listRunningTx(tx *sql.Tx) ([]*Run, error) {
	rows, err := tx.Query(`SELECT ` + runColumns + ` FROM runs WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
