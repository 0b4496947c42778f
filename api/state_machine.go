package api

import (
	"net/http"

	"github.com/vxikit/vxidash/machine"
)

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	if !s.engine.StartSession(r.Context(), id) {
		respondError(w, http.StatusBadRequest,
			"Failed to start state machine. Check that setup has valid initial state.")
		return
	}

	status, _ := s.engine.SessionStatus(id)
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "State machine started",
		"status":  status,
	})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	if !s.engine.StopSession(r.Context(), id) {
		respondError(w, http.StatusNotFound, "No active state machine session found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":  "State machine stopped",
		"setup_id": id,
	})
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	status, ok := s.engine.SessionStatus(id)
	if !ok {
		// an unknown session reports a not-running status rather than 404
		respondJSON(w, http.StatusOK, machine.SessionStatus{SetupID: id})
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.AllSessionsStatus())
}
