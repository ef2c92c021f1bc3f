// Package context assembles a task's retrieval bundle: C11 of the spec.
// Grounded on internal/router/router.go's pattern of a narrow struct that
// wraps one collaborator call with timing instrumentation in the style of
// internal/metrics's start/elapsed log lines.
package context

import (
	"context"
	"log"
	"time"

	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/taskgraph"
)

const defaultLimit = 10

// Bundle is the response shape for getContext(taskId).
type Bundle struct {
	TaskID         string
	TaskTitle      string
	Learnings      []retrieval.Result
	SearchQuery    string
	SearchDuration time.Duration
}

// Assembler composes a task's title+description into a query and routes
// it through the retrieval pipeline.
type Assembler struct {
	tasks     *taskgraph.Engine
	retriever *retrieval.Pipeline
}

func NewAssembler(tasks *taskgraph.Engine, retriever *retrieval.Pipeline) *Assembler {
	return &Assembler{tasks: tasks, retriever: retriever}
}

// GetContext fetches the task, builds its search query, and returns a
// timed retrieval bundle.
func (a *Assembler) GetContext(ctx context.Context, taskID string) (*Bundle, error) {
	task, err := a.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}

	query := task.Title + "\n" + task.Description

	opts := retrieval.DefaultOptions()
	opts.Limit = defaultLimit

	start := time.Now()
	results, err := a.retriever.Search(ctx, query, opts)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}
	log.Printf("[CONTEXT] task=%s learnings=%d duration=%s", taskID, len(results), duration)

	return &Bundle{
		TaskID:         taskID,
		TaskTitle:      task.Title,
		Learnings:      results,
		SearchQuery:    query,
		SearchDuration: duration,
	}, nil
}
