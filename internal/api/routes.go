package api

import (
	"net/http"

	"minikv/internal/logs"
)

func RegisterRoutes(mux *http.ServeMux, h *Handler, logger *logs.Logger) http.Handler {
	// Observability APIs
	mux.HandleFunc("GET /metrics", h.GetMetrics)
	mux.HandleFunc("GET /health", h.GetHealth)

	// Admin APIs
	mux.HandleFunc("GET /admin/sessions", h.ListSessions)

	// Sessions over websocket
	mux.HandleFunc("GET /ws", h.ServeWS)

	// Middlewares
	return Chain(
		mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)
}
