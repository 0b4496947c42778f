// vxidashd is the instrument automation backend: REST API, background
// monitoring collector, and the state machine engine.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vxikit/vxidash/api"
	"github.com/vxikit/vxidash/collector"
	"github.com/vxikit/vxidash/config"
	"github.com/vxikit/vxidash/internal/task"
	"github.com/vxikit/vxidash/logger"
	"github.com/vxikit/vxidash/machine"
	"github.com/vxikit/vxidash/storage"
	"github.com/vxikit/vxidash/vxi11"

	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if cfg.Env == "development" {
		logger.SetLevel(logger.DebugLevel)
	}
	log := logger.GetLogger()

	store, err := storage.Open(cfg.DB.Path)
	if err != nil {
		log.Fatal("failed to open database", "path", cfg.DB.Path, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := task.NewManager(ctx, log)

	dialOpts := []vxi11.Option{
		vxi11.WithMockEnabled(cfg.VXI11.EnableMock),
		vxi11.WithTCPCompat(cfg.VXI11.AllowTCPSCPI),
		vxi11.WithAutoUnlock(cfg.VXI11.AutoUnlock),
		vxi11.WithTimeout(cfg.VXI11.Timeout),
	}

	coll, err := collector.New(store, vxi11.Dial, cfg.DataDir, tasks, dialOpts...)
	if err != nil {
		log.Fatal("failed to initialize collector", "dataDir", cfg.DataDir, "error", err)
	}

	engine := machine.NewEngine(store, coll, vxi11.Dial, tasks,
		machine.WithTickInterval(cfg.Machine.TickInterval),
		machine.WithDialOptions(dialOpts...),
	)

	server := api.NewServer(store, coll, engine, vxi11.Dial, dialOpts...)
	if err := api.RegisterMetrics(prometheus.DefaultRegisterer, engine); err != nil {
		log.Fatal("failed to register metrics", "error", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// stop sessions first so instruments are left in a safe mode
	engine.StopAllSessions(shutdownCtx)
	coll.StopAll()
	cancel()
	tasks.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("database close failed", "error", err)
	}

	log.Info("shutdown complete")
}
