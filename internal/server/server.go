// Package server exposes the pipeline's monitoring surface: health,
// liveness and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/embedstar/internal/cache"
	"github.com/oriys/embedstar/internal/circuitbreaker"
	"github.com/oriys/embedstar/internal/db"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
	"github.com/oriys/embedstar/internal/observability"
	"github.com/oriys/embedstar/internal/shutdown"
)

const shutdownGrace = 5 * time.Second

// Server is the monitoring HTTP endpoint.
type Server struct {
	pool       *db.Pool
	breakers   *circuitbreaker.Registry
	cache      cache.EmbeddingCache
	ctrl       *shutdown.Controller
	provider   string
	model      string
	instanceID string
	httpSrv    *http.Server
}

// New builds the server on the given port.
func New(
	port int,
	pool *db.Pool,
	breakers *circuitbreaker.Registry,
	c cache.EmbeddingCache,
	ctrl *shutdown.Controller,
	provider, model, instanceID string,
) *Server {
	s := &Server{
		pool:       pool,
		breakers:   breakers,
		cache:      c,
		ctrl:       ctrl,
		provider:   provider,
		model:      model,
		instanceID: instanceID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/livez", s.handleLivez)
	mux.Handle("/metrics", metrics.Handler())

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: observability.HTTPMiddleware(mux),
	}
	return s
}

// Start serves until shutdown, then drains with a short grace period.
func (s *Server) Start() {
	done := s.ctrl.Register("monitoring-server")
	go func() {
		logging.Op().Info("monitoring server started", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("monitoring server error", "error", err)
		}
	}()
	go func() {
		defer done()
		<-s.ctrl.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			logging.Op().Warn("monitoring server shutdown", "error", err)
		}
	}()
}

type healthResponse struct {
	Status     string                    `json:"status"`
	InstanceID string                    `json:"instance_id"`
	Provider   string                    `json:"provider"`
	Model      string                    `json:"model"`
	Database   databaseHealth            `json:"database"`
	Cache      cache.Stats               `json:"cache"`
	Breakers   []circuitbreaker.Snapshot `json:"circuit_breakers"`
}

type databaseHealth struct {
	Healthy   bool    `json:"healthy"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
	Size      int     `json:"pool_size"`
	Available int     `json:"pool_available"`
	Waiting   int     `json:"pool_waiting"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:     "ok",
		InstanceID: s.instanceID,
		Provider:   s.provider,
		Model:      s.model,
		Cache:      s.cache.Stats(),
		Breakers:   s.breakers.Snapshots(),
	}

	ps := s.pool.Stats()
	resp.Database.Size = ps.Size
	resp.Database.Available = ps.Available
	resp.Database.Waiting = ps.Waiting

	latency, err := s.pool.Health(ctx)
	resp.Database.LatencyMS = float64(latency.Microseconds()) / 1000.0
	if err != nil {
		resp.Status = "degraded"
		resp.Database.Error = err.Error()
	} else {
		resp.Database.Healthy = true
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"alive"}`))
}
