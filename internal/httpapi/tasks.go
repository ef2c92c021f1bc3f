package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/txgraph/internal/taskgraph"
	"github.com/txgraph/internal/txerrors"
)

// statusForKind maps a txerrors.Kind to the HTTP status §6 assigns it.
func statusForKind(k txerrors.Kind) int {
	switch k {
	case txerrors.NotFound:
		return http.StatusNotFound
	case txerrors.Validation, txerrors.IllegalTransition, txerrors.CircularDependency, txerrors.HasChildren:
		return http.StatusBadRequest
	case txerrors.AlreadyClaimed, txerrors.StaleData:
		return http.StatusConflict
	case txerrors.PoolAtCapacity:
		return http.StatusTooManyRequests
	case txerrors.ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	k := txerrors.KindOf(err)
	writeError(w, statusForKind(k), string(k), err.Error())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := taskgraph.ListFilter{Search: q.Get("search")}
	if st := q.Get("status"); st != "" {
		status := taskgraph.Status(st)
		filter.Status = &status
	}
	if pid := q.Get("parentId"); pid != "" {
		filter.ParentID = &pid
	}
	if lim := q.Get("limit"); lim != "" {
		if parsed, err := strconv.Atoi(lim); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if c := q.Get("cursor"); c != "" {
		cursor, err := taskgraph.DecodeCursor(c)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		filter.Cursor = cursor
	}

	items, next, hasMore, err := s.engine.List(filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":      items,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

func (s *Server) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if lim := q.Get("limit"); lim != "" {
		if parsed, err := strconv.Atoi(lim); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	excludeClaimed := q.Get("excludeClaimed") != "false"

	items, err := s.scheduler.GetReady(limit, excludeClaimed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r, MaxPayloadSize)

	var req struct {
		Title       string         `json:"title"`
		Description string         `json:"description"`
		Score       *int           `json:"score,omitempty"`
		ParentID    *string        `json:"parentId,omitempty"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid request body")
		return
	}

	task, err := s.engine.Create(taskgraph.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Score:       req.Score,
		ParentID:    req.ParentID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	task, err := s.engine.GetWithDeps(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	limitRequestSize(r, MaxPayloadSize)

	var req struct {
		Title             *string        `json:"title,omitempty"`
		Description       *string        `json:"description,omitempty"`
		Status            *string        `json:"status,omitempty"`
		Score             *int           `json:"score,omitempty"`
		ParentID          *string        `json:"parentId,omitempty"`
		Metadata          map[string]any `json:"metadata,omitempty"`
		ExpectedUpdatedAt *time.Time     `json:"expectedUpdatedAt,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid request body")
		return
	}

	patch := taskgraph.UpdatePatch{
		Title:             req.Title,
		Description:       req.Description,
		Score:             req.Score,
		ParentID:          req.ParentID,
		Metadata:          req.Metadata,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
	}
	if req.Status != nil {
		status := taskgraph.Status(*req.Status)
		patch.Status = &status
	}

	task, err := s.engine.Update(id, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if patch.Status != nil && *patch.Status == taskgraph.StatusHumanNeedsToReview {
		s.notifyHumanReviewNeeded(task)
	}
	writeJSON(w, http.StatusOK, task)
}

// notifyHumanReviewNeeded best-effort surfaces a desktop toast when a task
// is parked in human_needs_to_review; the notifier itself no-ops off
// Windows, so failures here are logged, not propagated to the caller.
func (s *Server) notifyHumanReviewNeeded(task *taskgraph.Task) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifySupervisorNeedsInput(task.Title); err != nil {
		log.Printf("[HTTPAPI] toast notification skipped for task %s: %v", task.ID, err)
	}
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := s.engine.Remove(id, cascade); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDoneTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	status := taskgraph.StatusDone
	task, err := s.engine.Update(id, taskgraph.UpdatePatch{Status: &status})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAddBlocker(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	limitRequestSize(r, MaxPayloadSize)

	var req struct {
		BlockerID string `json:"blockerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid request body")
		return
	}
	if err := s.engine.AddBlocker(id, req.BlockerID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveBlocker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, blockerID := vars["id"], vars["blockerId"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	if err := s.engine.RemoveBlocker(id, blockerID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTaskID(id) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	tree, err := s.engine.GetTree(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}
