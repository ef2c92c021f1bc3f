package context

import (
	"context"
	"os"
	"testing"

	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
)

func TestGetContextAssemblesBundle(t *testing.T) {
	f, err := os.CreateTemp("", "context-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	defer os.Remove(f.Name())

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	engine := taskgraph.NewEngine(db)
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	pipe := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
	assembler := NewAssembler(engine, pipe)

	task, err := engine.Create(taskgraph.CreateInput{
		Title:       "fix token bucket overflow",
		Description: "rate limiter drops bursts under load",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := ls.Create(&learning.Learning{Content: "token bucket bursts need a ceiling check"}); err != nil {
		t.Fatal(err)
	}

	bundle, err := assembler.GetContext(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if bundle.TaskID != task.ID {
		t.Errorf("expected taskId %s, got %s", task.ID, bundle.TaskID)
	}
	if bundle.TaskTitle != task.Title {
		t.Errorf("expected title %q, got %q", task.Title, bundle.TaskTitle)
	}
	if len(bundle.Learnings) == 0 {
		t.Error("expected at least one learning in the bundle")
	}
	if bundle.SearchQuery == "" {
		t.Error("expected a non-empty search query")
	}
}

func TestGetContextFailsForUnknownTask(t *testing.T) {
	f, err := os.CreateTemp("", "context-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	defer os.Remove(f.Name())

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	engine := taskgraph.NewEngine(db)
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	pipe := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
	assembler := NewAssembler(engine, pipe)

	if _, err := assembler.GetContext(context.Background(), "tx-missing"); err == nil {
		t.Error("expected an error for an unknown task id")
	}
}
