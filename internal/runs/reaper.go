package runs

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/txgraph/internal/claims"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
	"github.com/txgraph/internal/txerrors"
	"golang.org/x/sys/unix"
)

const (
	defaultTranscriptIdleSeconds = 120
	defaultHeartbeatLagSeconds   = 60
	killGraceWindow              = 10 * time.Second
)

// Reaper is C6: it detects stalled runs and forcibly terminates them,
// grounded on internal/memory/agent_control.go's GetStaleAgents threshold
// query and internal/persistence/store.go's best-effort process signaling.
type Reaper struct {
	db      *storage.DB
	store   *Store
	claims  *claims.Manager
	engine  *taskgraph.Engine
	nowFunc func() time.Time
}

func NewReaper(db *storage.DB, claimsMgr *claims.Manager, engine *taskgraph.Engine) *Reaper {
	return &Reaper{db: db, store: NewStore(db), claims: claimsMgr, engine: engine, nowFunc: time.Now}
}

// ListStalled returns every running run whose transcript-idle or
// heartbeat-lag threshold has been exceeded, annotated with the reason
// and observed lag.
func (r *Reaper) ListStalled(tIdleSeconds, tLagSeconds *int) ([]*StalledRun, error) {
	idle := defaultTranscriptIdleSeconds
	if tIdleSeconds != nil {
		idle = *tIdleSeconds
	}
	lag := defaultHeartbeatLagSeconds
	if tLagSeconds != nil {
		lag = *tLagSeconds
	}

	runningRuns, err := r.store.List(statusPtr(StatusRunning), nil, nil)
	if err != nil {
		return nil, err
	}

	now := r.nowFunc().UTC()
	var out []*StalledRun
	for _, run := range runningRuns {
		if run.LastActivityAt != nil {
			elapsed := now.Sub(*run.LastActivityAt).Seconds()
			if elapsed >= float64(idle) {
				out = append(out, &StalledRun{Run: run, Reason: ReasonTranscriptIdle, LagSec: elapsed})
				continue
			}
		}
		if run.LastCheckAt != nil {
			elapsed := now.Sub(*run.LastCheckAt).Seconds()
			if elapsed >= float64(lag) {
				out = append(out, &StalledRun{Run: run, Reason: ReasonHeartbeatLag, LagSec: elapsed})
			}
		}
	}
	return out, nil
}

func statusPtr(s Status) *Status { return &s }

// ReapStalled terminates each stalled run's process (unless dryRun),
// marks the run reaped, releases its worker's active claim, and
// optionally resets the task back to ready.
func (r *Reaper) ReapStalled(opts ReapOptions) ([]ReapResult, error) {
	stalled, err := r.ListStalled(opts.TranscriptIdleSeconds, opts.HeartbeatLagSeconds)
	if err != nil {
		return nil, err
	}

	results := make([]ReapResult, 0, len(stalled))
	for _, sr := range stalled {
		result, err := r.reapOne(sr, opts)
		if err != nil {
			log.Printf("[REAPER] failed to reap run %s: %v", sr.Run.ID, err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Reaper) reapOne(sr *StalledRun, opts ReapOptions) (ReapResult, error) {
	run := sr.Run
	terminated := false
	if !opts.DryRun && run.PID != nil {
		terminated = terminateProcess(*run.PID)
	}

	var reset bool
	err := r.db.WithTx(func(tx *sql.Tx) error {
		reason := fmt.Sprintf("reaped: %s (lag=%.0fs)", sr.Reason, sr.LagSec)
		if err := r.store.updateStatusTx(tx, run.ID, StatusReaped, reason); err != nil {
			return err
		}

		if run.WorkerID != nil {
			if err := r.claims.ReleaseByWorker(*run.WorkerID); err != nil {
				return err
			}
		}

		if opts.ResetTask && run.TaskID != nil {
			task, err := r.engine.Get(*run.TaskID)
			if err != nil && !txerrors.Is(err, txerrors.NotFound) {
				return err
			}
			if task != nil && task.Status == taskgraph.StatusActive {
				readyStatus := taskgraph.StatusReady
				if _, err := r.engine.Update(*run.TaskID, taskgraph.UpdatePatch{Status: &readyStatus}); err != nil {
					return err
				}
				reset = true
			}
		}
		return nil
	})
	if err != nil {
		return ReapResult{}, err
	}

	log.Printf("[REAPER] reaped run %s reason=%s lag=%.0fs processTerminated=%t taskReset=%t",
		run.ID, sr.Reason, sr.LagSec, terminated, reset)
	var taskID string
	if run.TaskID != nil {
		taskID = *run.TaskID
	}
	return ReapResult{RunID: run.ID, TaskID: taskID, ProcessTerminated: terminated, TaskReset: reset}, nil
}

// terminateProcess sends SIGTERM, waits up to killGraceWindow for the
// process to exit, then SIGKILLs it. OS errors (process already gone,
// permission denied) are swallowed — a missing process is a successful
// termination, not a batch-aborting failure.
func terminateProcess(pid int) bool {
	if !processAlive(pid) {
		return true
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return !processAlive(pid)
	}

	deadline := time.Now().Add(killGraceWindow)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}

	_ = unix.Kill(pid, unix.SIGKILL)
	return true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes liveness without actually sending a signal.
	err = proc.Signal(unix.Signal(0))
	return err == nil
}
