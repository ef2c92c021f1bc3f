// Package taskgraph implements the task graph engine (dependency edges,
// status transitions, ancestor/descendant queries) and the ready
// scheduler that selects workable tasks from it.
package taskgraph

import "time"

// Status is one of the task lifecycle states in the transition table
// below.
type Status string

const (
	StatusBacklog            Status = "backlog"
	StatusReady              Status = "ready"
	StatusPlanning           Status = "planning"
	StatusActive             Status = "active"
	StatusBlocked            Status = "blocked"
	StatusReview             Status = "review"
	StatusHumanNeedsToReview Status = "human_needs_to_review"
	StatusDone               Status = "done"
)

// Workable statuses are the ones isReady and the scheduler consider.
func (s Status) Workable() bool {
	switch s {
	case StatusBacklog, StatusReady, StatusPlanning:
		return true
	default:
		return false
	}
}

// Task is the core scheduling unit. Score is in [0,1000], higher is more
// urgent; ParentID is nil for top-level tasks.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Score       int
	ParentID    *string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// WithDeps is the computed view attached to a task for API responses.
type WithDeps struct {
	Task
	BlockerIDs []string
	BlockedIDs []string
	ChildIDs   []string
	IsReady    bool
}

// ListFilter narrows List() results.
type ListFilter struct {
	Status   *Status
	ParentID *string
	Search   string
	Cursor   *Cursor
	Limit    int
}

// Cursor encodes the last row's (score, id) for "<score>:<id>" pagination.
type Cursor struct {
	Score int
	ID    string
}
