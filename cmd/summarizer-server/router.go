package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MegaGrindStone/go-mcp-streamable/internal/config"
	"github.com/MegaGrindStone/go-mcp-streamable/internal/metrics"
)

func newRouter(cfg config.Server, mcpHandler http.Handler, reg *prometheus.Registry, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.With(m.Middleware).Handle(cfg.Route, mcpHandler)
	if cfg.MetricsRoute != "" {
		r.Handle(cfg.MetricsRoute, metrics.Handler(reg))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	return r
}
