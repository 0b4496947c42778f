package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vxikit/vxidash/model"
	"github.com/vxikit/vxidash/storage"
)

// setupResponse embeds the referenced instrument for the frontend.
type setupResponse struct {
	model.MonitoringSetup
	Instrument *model.Instrument `json:"instrument"`
}

func (s *Server) enrichSetup(r *http.Request, setup model.MonitoringSetup) setupResponse {
	resp := setupResponse{MonitoringSetup: setup}
	if setup.InstrumentID != 0 {
		if inst, err := s.store.GetInstrument(r.Context(), setup.InstrumentID); err == nil {
			resp.Instrument = inst
		}
	}

	return resp
}

func (s *Server) listMonitoringSetups(w http.ResponseWriter, r *http.Request) {
	setups, err := s.store.GetMonitoringSetups(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	resp := make([]setupResponse, 0, len(setups))
	for _, setup := range setups {
		resp = append(resp, s.enrichSetup(r, setup))
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) createMonitoringSetup(w http.ResponseWriter, r *http.Request) {
	var setup model.MonitoringSetup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if setup.Name == "" {
		respondError(w, http.StatusBadRequest, "setup name is required")
		return
	}
	if err := setup.ValidateStateMachine(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if setup.InstrumentID != 0 {
		if _, err := s.store.GetInstrument(r.Context(), setup.InstrumentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				respondError(w, http.StatusNotFound, "Instrument not found")
				return
			}
			respondStoreError(w, err)
			return
		}
	}

	if err := s.store.CreateMonitoringSetup(r.Context(), &setup); err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, s.enrichSetup(r, setup))
}

func (s *Server) getMonitoringSetup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	setup, err := s.store.GetMonitoringSetup(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.enrichSetup(r, *setup))
}

func (s *Server) updateMonitoringSetup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	var setup model.MonitoringSetup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := setup.ValidateStateMachine(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	setup.ID = id

	if err := s.store.UpdateMonitoringSetup(r.Context(), &setup); err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.enrichSetup(r, setup))
}

func (s *Server) deleteMonitoringSetup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	if err := s.store.DeleteMonitoringSetup(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
