package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StageStatus is the last known outcome of one stage.
type StageStatus struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// StatusSource reports the latest stage outcomes for /health.
type StatusSource interface {
	StageStatuses() []StageStatus
}

// HealthServer serves /health, /ready, /live and /metrics.
type HealthServer struct {
	service   string
	source    StatusSource
	logger    *zap.Logger
	startTime time.Time
	srv       *http.Server
	nextRun   func() (time.Time, bool)
}

// NewHealthServer creates a health server listening on port.
func NewHealthServer(service string, port int, source StatusSource, logger *zap.Logger) *HealthServer {
	h := &HealthServer{
		service:   service,
		source:    source,
		logger:    logger,
		startTime: time.Now(),
	}
	h.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Handler returns the routing mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// SetNextRun makes /health report the time returned by next, when known.
// It must be called before Start.
func (h *HealthServer) SetNextRun(next func() (time.Time, bool)) {
	h.nextRun = next
}

// Start serves until Shutdown is called.
func (h *HealthServer) Start() error {
	h.logger.Info("health server listening", zap.String("addr", h.srv.Addr))
	if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var stages []StageStatus
	if h.source != nil {
		stages = h.source.StageStatuses()
	}

	status := "healthy"
	for _, s := range stages {
		if s.Status == "FAILED" {
			status = "degraded"
			break
		}
	}

	health := map[string]interface{}{
		"status":         status,
		"service":        h.service,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"stages":         stages,
	}
	if h.nextRun != nil {
		if next, ok := h.nextRun(); ok {
			health["next_run"] = next.UTC().Format(time.RFC3339)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		h.logger.Warn("failed to encode health response", zap.Error(err))
	}
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ready")
}

func (h *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "live")
}
