package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vxikit/vxidash/model"
)

const commandTimeout = 10 * time.Second

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.GetInstruments(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, instruments)
}

func (s *Server) createInstrument(w http.ResponseWriter, r *http.Request) {
	var inst model.Instrument
	if err := json.NewDecoder(r.Body).Decode(&inst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if inst.Name == "" {
		respondError(w, http.StatusBadRequest, "instrument name is required")
		return
	}
	if _, err := model.ParseCapability(inst.Description); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateInstrument(r.Context(), &inst); err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, inst)
}

func (s *Server) getInstrument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "instrumentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instrument id")
		return
	}

	inst, err := s.store.GetInstrument(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, inst)
}

func (s *Server) updateInstrument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "instrumentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instrument id")
		return
	}

	var inst model.Instrument
	if err := json.NewDecoder(r.Body).Decode(&inst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := model.ParseCapability(inst.Description); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	inst.ID = id

	if err := s.store.UpdateInstrument(r.Context(), &inst); err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, inst)
}

func (s *Server) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "instrumentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instrument id")
		return
	}

	if err := s.store.DeleteInstrument(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type commandRequest struct {
	Command string `json:"command"`
}

// sendCommand is the manual control console: a trailing "?" marks the command
// as a query, anything else is a plain write acknowledged with "OK".
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "instrumentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instrument id")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		respondError(w, http.StatusBadRequest, "command is required")
		return
	}

	inst, err := s.store.GetInstrument(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	response, err := s.execCommand(ctx, inst.Address, req.Command)
	if err != nil {
		respondError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to execute command: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"response": response})
}

func (s *Server) execCommand(ctx context.Context, address, command string) (string, error) {
	client, err := s.dial(address, s.dialOpts...)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if strings.HasSuffix(strings.TrimSpace(command), "?") {
		return client.Query(ctx, command)
	}

	if err := client.Write(ctx, command); err != nil {
		return "", err
	}

	return "OK", nil
}
