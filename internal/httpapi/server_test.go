package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/txgraph/internal/context"
	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/runs"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
)

func setupServer(t *testing.T) (*Server, *taskgraph.Engine) {
	t.Helper()
	f, err := os.CreateTemp("", "httpapi-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	engine := taskgraph.NewEngine(db)
	scheduler := taskgraph.NewScheduler(db)
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	pipe := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
	assembler := context.NewAssembler(engine, pipe)
	runStore := runs.NewStore(db)

	s := NewServer(engine, scheduler, ls, pipe, fb, assembler, runStore, nil)
	return s, engine
}

func TestHandleCreateAndGetTask(t *testing.T) {
	s, _ := setupServer(t)

	body, _ := json.Marshal(map[string]any{"title": "ship the reaper", "description": "stalled runs"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created taskgraph.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated task id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/tasks/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestHandleGetTaskRejectsMalformedID(t *testing.T) {
	s, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/not-a-valid-id", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetTaskReturnsNotFoundForUnknownID(t *testing.T) {
	s, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/tx-abc123", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleReadyTasksListsWorkableTasks(t *testing.T) {
	s, engine := setupServer(t)
	if _, err := engine.Create(taskgraph.CreateInput{Title: "index the learnings table"}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/ready", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Tasks []taskgraph.WithDeps `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tasks) != 1 {
		t.Fatalf("expected 1 ready task, got %d", len(resp.Tasks))
	}
}

func TestHandleCreateAndSearchLearnings(t *testing.T) {
	s, _ := setupServer(t)

	body, _ := json.Marshal(map[string]any{"content": "retry with exponential backoff on 503"})
	req := httptest.NewRequest(http.MethodPost, "/api/learnings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	searchReq := httptest.NewRequest(http.MethodGet, "/api/learnings?q=exponential+backoff", nil)
	searchRec := httptest.NewRecorder()
	s.ServeHTTP(searchRec, searchReq)
	if searchRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", searchRec.Code, searchRec.Body.String())
	}
}

func TestHandleSearchLearningsRequiresQuery(t *testing.T) {
	s, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/learnings", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetContextForTask(t *testing.T) {
	s, engine := setupServer(t)
	task, err := engine.Create(taskgraph.CreateInput{Title: "debug flaky reaper test", Description: "run stalls intermittently"})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/context/"+task.ID, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
