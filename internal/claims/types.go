// Package claims implements the worker registry and exclusive task-claim
// system: C5 of the spec.
package claims

import "time"

type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerStopping WorkerStatus = "stopping"
	WorkerDead     WorkerStatus = "dead"
)

type ClaimStatus string

const (
	ClaimActive   ClaimStatus = "active"
	ClaimReleased ClaimStatus = "released"
)

// Worker mirrors internal/memory/agent_control.go's AgentControl, narrowed
// to the fields the spec's worker registry names.
type Worker struct {
	ID              string
	Hostname        string
	PID             *int
	Capabilities    []string
	Status          WorkerStatus
	RegisteredAt    time.Time
	LastHeartbeatAt *time.Time
	CurrentTaskID   *string
	Metadata        map[string]any
}

func (w *Worker) Dead() bool { return w.Status == WorkerDead }

// Claim is an exclusive lease on a task held by a worker.
type Claim struct {
	ID         string
	TaskID     string
	WorkerID   string
	Status     ClaimStatus
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// HeartbeatInput is what a worker reports on each heartbeat tick.
type HeartbeatInput struct {
	WorkerID      string
	Status        *WorkerStatus
	CurrentTaskID *string
	Metrics       map[string]any
}
