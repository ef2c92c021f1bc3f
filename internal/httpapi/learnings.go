package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/txerrors"
)

func (s *Server) handleSearchLearnings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "q is required")
		return
	}

	opts := retrieval.DefaultOptions()
	if lim := q.Get("limit"); lim != "" {
		if parsed, err := strconv.Atoi(lim); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}

	results, err := s.retriever.Search(r.Context(), query, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"learnings": results, "query": query})
}

func (s *Server) handleCreateLearning(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r, MaxPayloadSize)

	var req struct {
		Content    string   `json:"content"`
		SourceType string   `json:"sourceType,omitempty"`
		SourceRef  *string  `json:"sourceRef,omitempty"`
		Keywords   []string `json:"keywords,omitempty"`
		Category   *string  `json:"category,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "content must not be empty")
		return
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = learning.DefaultSourceType
	}

	l := &learning.Learning{
		Content:    req.Content,
		SourceType: sourceType,
		SourceRef:  req.SourceRef,
		Keywords:   req.Keywords,
		Category:   req.Category,
	}
	if err := s.learnings.Create(l); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleGetLearning(w http.ResponseWriter, r *http.Request) {
	id, err := parseLearningID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid learning id")
		return
	}
	l, err := s.learnings.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleMarkHelpful(w http.ResponseWriter, r *http.Request) {
	id, err := parseLearningID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid learning id")
		return
	}
	limitRequestSize(r, MaxPayloadSize)

	var req struct {
		RunID    string `json:"runId"`
		Helpful  bool   `json:"helpful"`
		Position int    `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "runId is required")
		return
	}

	entry := feedback.UsageEntry{LearningID: id, Helpful: req.Helpful, Position: req.Position}
	if err := s.feedback.RecordUsage(req.RunID, []feedback.UsageEntry{entry}); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.learnings.IncrementUseCount(id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	if !validTaskID(taskID) {
		writeError(w, http.StatusBadRequest, string(txerrors.Validation), "invalid task id")
		return
	}
	bundle, err := s.assembler.GetContext(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func parseLearningID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}
