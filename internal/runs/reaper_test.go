package runs

import (
	"os"
	"testing"
	"time"

	"github.com/txgraph/internal/claims"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
)

func setupReaper(t *testing.T) (*Reaper, *Store, *claims.Manager, *taskgraph.Engine, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "runs-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() {
		db.Close()
		os.Remove(f.Name())
	}

	claimsMgr := claims.NewManager(db, 0, 10*time.Second, 3)
	engine := taskgraph.NewEngine(db)
	return NewReaper(db, claimsMgr, engine), NewStore(db), claimsMgr, engine, cleanup
}

func TestReaperResetsAbandonedTask(t *testing.T) {
	reaper, store, claimsMgr, engine, cleanup := setupReaper(t)
	defer cleanup()

	task, err := engine.Create(taskgraph.CreateInput{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	active := taskgraph.StatusActive
	if _, err := engine.Update(task.ID, taskgraph.UpdatePatch{Status: &active}); err != nil {
		t.Fatal(err)
	}

	worker, err := claimsMgr.Register(claims.Worker{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := claimsMgr.Acquire(task.ID, worker.ID); err != nil {
		t.Fatal(err)
	}

	fiveMinAgo := time.Now().UTC().Add(-5 * time.Minute)
	run := &Run{
		ID:             "run-a1b2c3d4",
		AgentName:      "test-agent",
		TaskID:         &task.ID,
		WorkerID:       &worker.ID,
		LastActivityAt: &fiveMinAgo,
		LastCheckAt:    &fiveMinAgo,
	}
	if err := store.Create(run); err != nil {
		t.Fatal(err)
	}

	idle := 120
	results, err := reaper.ReapStalled(ReapOptions{TranscriptIdleSeconds: &idle, ResetTask: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].RunID != run.ID {
		t.Fatalf("expected exactly one reap result for %s, got %+v", run.ID, results)
	}
	if !results[0].TaskReset {
		t.Fatal("expected taskReset to be true")
	}

	reloaded, err := store.Get(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != StatusReaped {
		t.Fatalf("expected run to end reaped, got %s", reloaded.Status)
	}

	taskAfter, err := engine.Get(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if taskAfter.Status != taskgraph.StatusReady {
		t.Fatalf("expected task back to ready, got %s", taskAfter.Status)
	}
}

func TestListStalledSkipsFreshRuns(t *testing.T) {
	reaper, store, _, _, cleanup := setupReaper(t)
	defer cleanup()

	now := time.Now().UTC()
	run := &Run{ID: "run-fresh001", AgentName: "a", LastActivityAt: &now, LastCheckAt: &now}
	if err := store.Create(run); err != nil {
		t.Fatal(err)
	}

	stalled, err := reaper.ListStalled(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 0 {
		t.Fatalf("expected no stalled runs, got %+v", stalled)
	}
}
