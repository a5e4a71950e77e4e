// Package service exposes the harness's liveness and Prometheus metrics
// over HTTP while a run is in flight, so CI dashboards can watch long
// builds and test rounds.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/crucible-ci/crucible/metrics"
)

const DefaultAddr = "0.0.0.0:7300"

// Run states reported by the healthz endpoint.
const (
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Monitor serves /healthz and /metrics for one harness run on a single
// listener. The healthz payload identifies the run and tracks its state
// from running to its final outcome.
type Monitor struct {
	log     log.Logger
	runID   string
	started time.Time
	status  atomic.Value // string
	server  *http.Server
}

func NewMonitor(logger log.Logger, runID string) *Monitor {
	if logger == nil {
		logger = log.Root()
	}
	m := &Monitor{
		log:     logger,
		runID:   runID,
		started: time.Now(),
	}
	m.status.Store(StatusRunning)
	return m
}

// Handler returns the monitor's route table.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(mux)
}

// Start serves in the background until Shutdown. Listener failures are
// logged and counted but never interrupt the run being monitored.
func (m *Monitor) Start(addr string) {
	if addr == "" {
		addr = DefaultAddr
	}
	m.server = &http.Server{
		Addr:    addr,
		Handler: m.Handler(),
	}
	m.log.Info("Starting monitoring server", "addr", addr, "run_id", m.runID)
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("Monitoring server failed", "err", err)
			metrics.RecordErrorDetails("monitoring server failed", err)
		}
	}()
}

// SetStatus records the run's current state for healthz responses.
func (m *Monitor) SetStatus(status string) {
	m.status.Store(status)
}

func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	m.log.Info("Stopping monitoring server")
	return m.server.Shutdown(ctx)
}

type healthzResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Uptime string `json:"uptime"`
}

func (m *Monitor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status: m.status.Load().(string),
		RunID:  m.runID,
		Uptime: time.Since(m.started).Round(time.Second).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.log.Warn("Failed to write healthz response", "err", err)
	}
}
