// Package runs tracks execution attempts (runs) and reaps the ones that
// stall: C6 of the spec.
package runs

import "time"

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReaped    Status = "reaped"
)

// Run is one worker's attempt at a task.
type Run struct {
	ID              string
	AgentName       string
	TaskID          *string
	WorkerID        *string
	PID             *int
	TranscriptPath  string
	StdoutBytes     int64
	StderrBytes     int64
	TranscriptBytes int64
	LastActivityAt  *time.Time
	LastCheckAt     *time.Time
	Status          Status
	ExitCode        *int
	Summary         string
	ErrorMessage    string
	CreatedAt       time.Time
}

// StallReason names which threshold flagged a run as stalled.
type StallReason string

const (
	ReasonTranscriptIdle StallReason = "transcript_idle"
	ReasonHeartbeatLag   StallReason = "heartbeat_lag"
)

type StalledRun struct {
	Run    *Run
	Reason StallReason
	LagSec float64
}

// ReapOptions configures reapStalled; zero values take the documented
// defaults.
type ReapOptions struct {
	TranscriptIdleSeconds *int
	HeartbeatLagSeconds   *int
	ResetTask             bool
	DryRun                bool
}

// ReapResult reports, per reaped run, what actually happened.
type ReapResult struct {
	RunID             string
	TaskID            string
	ProcessTerminated bool
	TaskReset         bool
}
