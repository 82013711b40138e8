// Package admin serves the local HTTP control surface: health, stats,
// Prometheus metrics and start/stop of the broadcaster.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socketstream-server/broadcaster"
)

const statsTimeout = 2 * time.Second

type Controller interface {
	Start() error
	Stop() error
	Stats(ctx context.Context) (broadcaster.Stats, error)
}

func NewRouter(ctl Controller, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/stats", statsHandler(ctl))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/broadcast", func(r chi.Router) {
		r.Post("/start", actionHandler("start", ctl.Start))
		r.Post("/stop", actionHandler("stop", ctl.Stop))
	})
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statsHandler(ctl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()

		stats, err := ctl.Stats(ctx)
		if err != nil {
			slog.Error("stats error", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// actionHandler queues the action; its outcome arrives as broadcaster
// events, so the response only confirms it was accepted.
func actionHandler(name string, action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(); err != nil {
			slog.Error("action failed", "action", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "action": name})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode error", "error", err)
	}
}
