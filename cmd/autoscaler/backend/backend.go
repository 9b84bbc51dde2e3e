// Package backend builds the metrics sampler selected by the autoscaler
// configuration.
package backend

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/HatiCode/workerscaler/cmd/autoscaler/config"
	"github.com/HatiCode/workerscaler/pkg/adapters"
)

// New returns the configured sampler, exiting with status 1 on an unknown
// backend.
func New(cfg *config.Config, logger *slog.Logger) adapters.Sampler {
	s, err := Open(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize metrics backend", "error", err)
		os.Exit(1)
	}
	return s
}

// Open returns the configured sampler or an error. Every request it makes is
// bounded by cfg.RequestTimeout.
func Open(cfg *config.Config, logger *slog.Logger) (adapters.Sampler, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	switch cfg.MetricsBackend {
	case "graphite", "":
		logger.Info("initializing graphite backend", "url", cfg.MetricsURL, "index_window", cfg.IndexWindow)
		return &adapters.GraphiteAdapter{
			ServerURL:   cfg.MetricsURL,
			IndexWindow: cfg.IndexWindow,
			HTTPClient:  httpClient,
		}, nil

	case "prometheus":
		logger.Info("initializing prometheus backend", "url", cfg.MetricsURL, "index_window", cfg.IndexWindow)
		return &adapters.PrometheusAdapter{
			ServerURL:   cfg.MetricsURL,
			IndexWindow: cfg.IndexWindow,
			HTTPClient:  httpClient,
		}, nil

	default:
		return nil, fmt.Errorf("invalid metrics backend %q", cfg.MetricsBackend)
	}
}
