package claims

import (
	"os"
	"testing"
	"time"

	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
	"github.com/txgraph/internal/txerrors"
)

func setup(t *testing.T) (*Manager, *taskgraph.Engine, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "claims-test-*.db")
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
	return NewManager(db, 0, 10*time.Second, 3), taskgraph.NewEngine(db), cleanup
}

func TestClaimMutualExclusion(t *testing.T) {
	mgr, engine, cleanup := setup(t)
	defer cleanup()

	task, err := engine.Create(taskgraph.CreateInput{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	w1, err := mgr.Register(Worker{})
	if err != nil {
		t.Fatal(err)
	}
	w2, err := mgr.Register(Worker{})
	if err != nil {
		t.Fatal(err)
	}

	claim1, err := mgr.Acquire(task.ID, w1.ID)
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	if _, err := mgr.Acquire(task.ID, w2.ID); !txerrors.Is(err, txerrors.AlreadyClaimed) {
		t.Fatalf("expected AlreadyClaimed, got %v", err)
	}

	if err := mgr.Release(claim1.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := mgr.Acquire(task.ID, w2.ID); err != nil {
		t.Fatalf("retry after release should succeed: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr, engine, cleanup := setup(t)
	defer cleanup()

	task, _ := engine.Create(taskgraph.CreateInput{Title: "t"})
	w, _ := mgr.Register(Worker{})
	claim, err := mgr.Acquire(task.ID, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Release(claim.ID); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Release(claim.ID); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestPoolAtCapacity(t *testing.T) {
	f, _ := os.CreateTemp("", "claims-pool-*.db")
	f.Close()
	defer os.Remove(f.Name())
	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mgr := NewManager(db, 1, 10*time.Second, 3)
	if _, err := mgr.Register(Worker{}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Register(Worker{}); !txerrors.Is(err, txerrors.PoolAtCapacity) {
		t.Fatalf("expected PoolAtCapacity, got %v", err)
	}
}
