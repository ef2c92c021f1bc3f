// Package httpapi exposes the task graph, learning store, and context
// assembler over HTTP per §6. Grounded on internal/handlers/tasks.go
// (method-check-then-http.Error dispatch, mux.Vars id extraction,
// limitRequestSize/MaxPayloadSize DoS guard, query-param pagination) and
// internal/handlers/captain.go (the shared limitRequestSize helper).
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/txgraph/internal/context"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/notifications"
	"github.com/txgraph/internal/ratelimit"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/runs"
	"github.com/txgraph/internal/taskgraph"
)

// MaxPayloadSize caps request bodies, mirroring internal/handlers/captain.go's
// DoS guard.
const MaxPayloadSize = 1 * 1024 * 1024

var taskIDPattern = regexp.MustCompile(`^tx-[a-z0-9]{6,12}$`)

// Server wires the task graph, learning, and context services onto a
// gorilla/mux router.
type Server struct {
	engine    *taskgraph.Engine
	scheduler *taskgraph.Scheduler
	learnings *learning.Store
	retriever *retrieval.Pipeline
	feedback  *feedback.Tracker
	assembler *context.Assembler
	runs      *runs.Store
	limiter   *ratelimit.Limiter
	notifier  *notifications.ToastNotifier
	live      *liveHub
	router    *mux.Router
}

func NewServer(engine *taskgraph.Engine, scheduler *taskgraph.Scheduler, learnings *learning.Store,
	retriever *retrieval.Pipeline, fb *feedback.Tracker, assembler *context.Assembler, runStore *runs.Store, limiter *ratelimit.Limiter) *Server {
	s := &Server{
		engine:    engine,
		scheduler: scheduler,
		learnings: learnings,
		retriever: retriever,
		feedback:  fb,
		assembler: assembler,
		runs:      runStore,
		limiter:   limiter,
		notifier:  notifications.NewToastNotifier(""),
		live:      newLiveHub(),
	}
	go s.live.run()
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/ready", s.handleReadyTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handlePatchTask).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/done", s.handleDoneTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/block", s.handleAddBlocker).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/block/{blockerId}", s.handleRemoveBlocker).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/tree", s.handleGetTree).Methods(http.MethodGet)

	api.HandleFunc("/learnings", s.handleSearchLearnings).Methods(http.MethodGet)
	api.HandleFunc("/learnings", s.handleCreateLearning).Methods(http.MethodPost)
	api.HandleFunc("/learnings/{id}", s.handleGetLearning).Methods(http.MethodGet)
	api.HandleFunc("/learnings/{id}/helpful", s.handleMarkHelpful).Methods(http.MethodPost)
	api.HandleFunc("/context/{taskId}", s.handleGetContext).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleLiveFeed)

	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	return r
}

// writeError writes the {error:{code,message}} envelope §6 requires.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	}); err != nil {
		log.Printf("[HTTPAPI] failed to encode error response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTPAPI] failed to encode response: %v", err)
	}
}

func validTaskID(id string) bool {
	return taskIDPattern.MatchString(id)
}

// limitRequestSize caps r.Body the same way internal/handlers/captain.go
// does, to reject oversized payloads before they reach json.Decode.
func limitRequestSize(r *http.Request, maxSize int64) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxSize)
}
