// Package router configures HTTP routes for the autoscaler's observational
// HTTP server.
//
// Routes configured:
//   - GET /healthz - liveness, always 200 OK
//   - GET /readyz - 200 once a tick completed recently, 503 otherwise
//   - GET /metrics - Prometheus metrics endpoint
//   - GET /status?cluster=<name> - latest control-loop status as JSON
//
// Statuses older than the stale threshold carry an X-Workerscaler-Stale header.
// None of these routes influence scaling.
package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/workerscaler/pkg/httpx"
	"github.com/HatiCode/workerscaler/pkg/storage"
)

// StaleHeader is set on /status responses whose status is older than the
// stale threshold.
const StaleHeader = "X-Workerscaler-Stale"

// SetupRoutes builds the handler for the autoscaler HTTP server. cluster is
// the default for /status when no query parameter is given. ready backs
// /readyz.
func SetupRoutes(store storage.Store, cluster string, staleAfter time.Duration, ready func() error, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("/readyz", httpx.HealthHandlerWithCheck(ready))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", handleGetStatus(store, cluster, staleAfter, logger))

	var h http.Handler = mux
	h = httpx.LoggingMiddleware(logger)(h)
	h = httpx.RecoveryMiddleware(logger)(h)
	return h
}

func handleGetStatus(store storage.Store, defaultCluster string, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		cluster := r.URL.Query().Get("cluster")
		if cluster == "" {
			cluster = defaultCluster
		}
		if cluster == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "cluster parameter required")
			return
		}

		status, found, err := store.GetLatest(r.Context(), cluster)
		if err != nil {
			logger.Error("failed to get status", "cluster", cluster, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no status for cluster %q", cluster))
			return
		}

		if staleAfter > 0 && time.Since(status.GeneratedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, status); err != nil {
			logger.Warn("failed to write status", "cluster", cluster, "error", err)
		}
	}
}
