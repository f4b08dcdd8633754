package api

import (
	"encoding/json"
	"net/http"

	"minikv/internal/command"
	"minikv/internal/health"
	"minikv/internal/logs"
	"minikv/internal/metrics"
	"minikv/internal/session"

	"github.com/prometheus/common/expfmt"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions   *session.Manager
	dispatcher *command.Dispatcher
	metrics    *metrics.Registry
	analyzer   *health.Analyzer
	logger     *logs.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	sessions *session.Manager,
	dispatcher *command.Dispatcher,
	metrics *metrics.Registry,
	logger *logs.Logger,
) *Handler {
	return &Handler{
		sessions:   sessions,
		dispatcher: dispatcher,
		metrics:    metrics,
		analyzer:   health.NewAnalyzer(metrics, logger),
		logger:     logger,
	}
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := h.metrics.WriteText(w); err != nil {
		h.logger.Warn("metrics write failed", "err", err)
	}
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.analyzer.Analyze()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

/* ---------------- GET /admin/sessions ---------------- */

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.sessions.List())
}
