// Package api exposes the REST surface: instruments, monitoring setups,
// state-machine sessions, dashboard data, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vxikit/vxidash/collector"
	"github.com/vxikit/vxidash/logger"
	"github.com/vxikit/vxidash/machine"
	"github.com/vxikit/vxidash/storage"
	"github.com/vxikit/vxidash/vxi11"
)

// Server holds the collaborators the handlers work against.
type Server struct {
	store     storage.Store
	collector *collector.Collector
	engine    *machine.Engine
	dial      machine.DialFunc
	dialOpts  []vxi11.Option
	logger    logger.Logger
}

// NewServer wires the REST handlers. dial is used by the manual command
// console to reach instruments directly.
func NewServer(store storage.Store, coll *collector.Collector, engine *machine.Engine, dial machine.DialFunc, dialOpts ...vxi11.Option) *Server {
	return &Server{
		store:     store,
		collector: coll,
		engine:    engine,
		dial:      dial,
		dialOpts:  dialOpts,
		logger:    logger.GetLogger(),
	}
}

// Router builds the full HTTP handler, API under /api and metrics at /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Route("/instruments", func(r chi.Router) {
			r.Get("/", s.listInstruments)
			r.Post("/", s.createInstrument)
			r.Get("/{instrumentID}", s.getInstrument)
			r.Put("/{instrumentID}", s.updateInstrument)
			r.Delete("/{instrumentID}", s.deleteInstrument)
			r.Post("/{instrumentID}/command", s.sendCommand)
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/", s.listMonitoringSetups)
			r.Post("/", s.createMonitoringSetup)
			r.Get("/{setupID}", s.getMonitoringSetup)
			r.Put("/{setupID}", s.updateMonitoringSetup)
			r.Delete("/{setupID}", s.deleteMonitoringSetup)
		})

		r.Route("/state-machine", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/{setupID}/start", s.startSession)
			r.Post("/{setupID}/stop", s.stopSession)
			r.Get("/{setupID}/status", s.sessionStatus)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/summary", s.dashboardSummary)
			r.Get("/live-data", s.liveData)
			r.Get("/live-data/{setupID}", s.setupLiveData)
			r.Get("/historical-data", s.historicalData)
			r.Get("/export", s.exportCSV)
			r.Post("/monitoring/{setupID}/start", s.startMonitoring)
			r.Post("/monitoring/{setupID}/stop", s.stopMonitoring)
			r.Post("/monitoring/{setupID}/collect", s.collectNow)
			r.Get("/monitoring/{setupID}/status", s.monitoringStatus)
			r.Post("/monitoring/{setupID}/reset", s.resetMonitoring)
		})
	})

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
