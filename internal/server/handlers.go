package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/ibkr-flexsync/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// runResponse is the JSON shape returned by both the trigger and status
// endpoints.
type runResponse struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	Trigger      string `json:"trigger,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// handleTriggerRun triggers a manual ingestion run (spec §4.1). A run
// already active for the account is reported as 409, not a 500 — the
// overlap is expected, documented behavior, not a server error.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.Trigger(r.Context(), store.RunTriggerManual)
	if errors.Is(err, store.ErrRunAlreadyActive) {
		s.writeError(w, http.StatusConflict, "an ingestion run is already active for this account")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("failed to trigger ingestion run")
		s.writeError(w, http.StatusInternalServerError, "failed to trigger ingestion run")
		return
	}
	s.writeJSON(w, http.StatusAccepted, runResponse{RunID: result.RunID, Status: string(result.Status)})
}

// handleGetRun returns the current or terminal state of a previously
// triggered run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.db.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("run_id", id).Msg("failed to load run")
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	resp := runResponse{RunID: run.ID, Status: string(run.Status), Trigger: string(run.Trigger)}
	if run.ErrorCode.Valid {
		resp.ErrorCode = run.ErrorCode.String
	}
	if run.ErrorMessage.Valid {
		resp.ErrorMessage = run.ErrorMessage.String
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
