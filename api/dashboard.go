package api

import (
	"net/http"
	"time"

	"github.com/vxikit/vxidash/collector"
)

const (
	maxLiveDataLimit   = 1000
	maxHistoricalHours = 168
)

func (s *Server) dashboardSummary(w http.ResponseWriter, r *http.Request) {
	setups, err := s.store.GetMonitoringSetups(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	enriched := make([]setupResponse, 0, len(setups))
	instruments := map[int64]struct{}{}
	for _, setup := range setups {
		enriched = append(enriched, s.enrichSetup(r, setup))
		if setup.InstrumentID != 0 {
			instruments[setup.InstrumentID] = struct{}{}
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp":                time.Now().UTC(),
		"active_monitoring_setups": len(setups),
		"connected_instruments":    len(instruments),
		"setups":                   enriched,
	})
}

func (s *Server) liveData(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, maxLiveDataLimit)
	respondJSON(w, http.StatusOK, s.collector.LatestReadings(limit))
}

func (s *Server) setupLiveData(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	limit := queryInt(r, "limit", 50, maxLiveDataLimit)
	respondJSON(w, http.StatusOK, s.collector.ReadingsForSetup(id, limit))
}

func (s *Server) historicalData(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24, maxHistoricalHours)

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	respondJSON(w, http.StatusOK, s.collector.ReadingsByTimeRange(start, end))
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24, maxHistoricalHours)

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	readings := s.collector.ReadingsByTimeRange(start, end)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
	if err := collector.WriteCSV(w, readings); err != nil {
		s.logger.Error("csv export failed", "error", err)
	}
}

func (s *Server) startMonitoring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	if _, err := s.store.GetMonitoringSetup(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	if err := s.collector.StartMonitoring(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "started", "setup_id": id})
}

func (s *Server) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	s.collector.StopMonitoring(id)

	// best effort: leave the instruments in a safe mode
	if err := s.collector.DisableModeForSetup(r.Context(), id); err != nil {
		s.logger.Warn("disable on stop failed", "setupID", id, "error", err)
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped", "setup_id": id})
}

func (s *Server) collectNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	reading, err := s.collector.CollectFromSetup(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if reading == nil {
		respondError(w, http.StatusNotFound, "Failed to collect data")
		return
	}

	respondJSON(w, http.StatusOK, reading)
}

func (s *Server) monitoringStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	respondJSON(w, http.StatusOK, s.collector.Status(id))
}

func (s *Server) resetMonitoring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "setupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid setup id")
		return
	}

	removed := s.collector.ResetReadingsForSetup(id)
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "reset", "removed": removed, "setup_id": id,
	})
}
