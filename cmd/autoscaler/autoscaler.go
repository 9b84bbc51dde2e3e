// Package main implements the workerscaler daemon.
// It polls a metrics backend for the executor demand of running jobs, smooths
// it over a trailing window and resizes one compute cluster through its
// management API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/workerscaler/cmd/autoscaler/metrics"
	"github.com/HatiCode/workerscaler/pkg/adapters"
	"github.com/HatiCode/workerscaler/pkg/capacity"
	"github.com/HatiCode/workerscaler/pkg/client"
	"github.com/HatiCode/workerscaler/pkg/demand"
	"github.com/HatiCode/workerscaler/pkg/storage"
)

// HealthService is the gRPC health service name reported by the daemon.
const HealthService = "workerscaler"

// ClusterAPI reads and resizes a cluster. *client.ClusterClient implements it.
type ClusterAPI interface {
	GetWorkerCount(ctx context.Context, cluster string) (int, error)
	SetWorkerCount(ctx context.Context, cluster string, n int) (int, error)
}

// DemandSource computes the current worker demand. *demand.Aggregator
// implements it.
type DemandSource interface {
	Compute(ctx context.Context) (demand.Demand, error)
}

// HealthReporter receives serving status updates. *health.Server implements it.
type HealthReporter interface {
	SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus)
}

// Autoscaler runs the control loop: read cluster → compute demand → smooth →
// decide → resize → publish status.
type Autoscaler struct {
	cluster string
	api     ClusterAPI
	demand  DemandSource
	policy  capacity.Policy
	window  *demand.Window
	store   storage.Store
	metrics *metrics.Metrics
	health  HealthReporter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	lastTick time.Time
}

// New creates an Autoscaler. health may be nil.
func New(
	cluster string,
	api ClusterAPI,
	source DemandSource,
	policy capacity.Policy,
	window *demand.Window,
	store storage.Store,
	m *metrics.Metrics,
	health HealthReporter,
	logger *slog.Logger,
) *Autoscaler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Autoscaler{
		cluster: cluster,
		api:     api,
		demand:  source,
		policy:  policy,
		window:  window,
		store:   store,
		metrics: m,
		health:  health,
		logger:  logger.With("cluster", cluster),
		now:     time.Now,
	}
}

// Run ticks once immediately and then once per interval until ctx is
// canceled. Tick errors are logged and never end the loop.
func (a *Autoscaler) Run(ctx context.Context, interval time.Duration) error {
	a.logger.Info("starting control loop", "interval", interval, "window", a.window.Cap())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := a.Tick(ctx); err != nil {
		a.logger.Error("tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if err := a.Tick(ctx); err != nil {
				a.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick performs one control cycle. A failed cluster read still updates the
// demand window but skips the resize. A failed metrics index leaves the
// window untouched.
func (a *Autoscaler) Tick(ctx context.Context) error {
	start := a.now()
	status := storage.Status{Cluster: a.cluster, GeneratedAt: start}

	available, clusterErr := a.api.GetWorkerCount(ctx, a.cluster)
	if clusterErr == nil {
		status.ClusterReachable = true
		status.Available = available
		a.metrics.SetClusterWorkers(available)
	}

	d, err := a.demand.Compute(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result := metrics.ResultDemandFailed
		if errors.Is(err, adapters.ErrBackendUnavailable) {
			result = metrics.ResultBackendUnavailable
		}
		status.Window = a.window.Values()
		status.Target = a.window.Max()
		status.Error = err.Error()
		a.logger.Warn("demand unknown, skipping tick", "error", err)
		a.finish(ctx, status, result, start)
		return fmt.Errorf("compute demand: %w", err)
	}
	status.MetricsReachable = true
	status.Demand = d.Total
	status.Series = d.Series
	status.MissingSeries = d.Missing
	a.metrics.RecordMissingSeries(d.Missing)

	a.window.Push(d.Total)
	target := a.window.Max()
	status.Window = a.window.Values()
	status.Target = target
	a.metrics.SetDemand(d.Total, target)

	if clusterErr != nil {
		status.Error = clusterErr.Error()
		a.logger.Warn("cluster unavailable, skipping resize",
			"demand", d.Total,
			"target", target,
			"error", clusterErr,
		)
		a.finish(ctx, status, metrics.ResultClusterUnavailable, start)
		return fmt.Errorf("read cluster: %w", clusterErr)
	}

	decision := a.policy.Decide(target, available)
	status.Decision = decision.String()

	a.logger.Info("tick",
		"demand", d.Total,
		"target", target,
		"available", available,
		"series", d.Series,
		"missing", d.Missing,
		"decision", status.Decision,
	)

	if decision.Suppressed {
		a.logger.Warn("scale to zero suppressed", "available", available)
	}

	if decision.Action == capacity.ScaleTo {
		direction := decision.Direction(available)
		code, err := a.api.SetWorkerCount(ctx, a.cluster, decision.Workers)
		a.metrics.RecordScaleRequest(direction, err == nil)
		if err != nil {
			status.Error = err.Error()
			a.logger.Error("scale request failed",
				"workers", decision.Workers,
				"status", code,
				"error", err,
			)
			a.finish(ctx, status, metrics.ResultScaleFailed, start)
			return fmt.Errorf("scale to %d: %w", decision.Workers, err)
		}
		status.Requested = decision.Workers
		a.logger.Info("scaled cluster",
			"from", available,
			"to", decision.Workers,
			"direction", direction,
			"status", code,
		)
	}

	a.finish(ctx, status, metrics.ResultOK, start)
	return nil
}

// finish publishes the tick outcome to the status store, metrics and health
// service.
func (a *Autoscaler) finish(ctx context.Context, status storage.Status, result string, start time.Time) {
	duration := a.now().Sub(start)
	a.metrics.RecordTick(result, duration.Seconds())

	if err := a.store.Put(ctx, status); err != nil {
		a.logger.Error("failed to store status", "error", err)
	}

	if a.health != nil {
		serving := grpc_health_v1.HealthCheckResponse_SERVING
		if !status.MetricsReachable || !status.ClusterReachable {
			serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		a.health.SetServingStatus(HealthService, serving)
		a.health.SetServingStatus("", serving)
	}

	if result == metrics.ResultOK {
		a.mu.Lock()
		a.lastTick = start
		a.mu.Unlock()
	}

	a.logger.Debug("tick complete", "result", result, "total_ms", duration.Milliseconds())
}

// Ready reports an error unless a tick succeeded within maxAge.
func (a *Autoscaler) Ready(maxAge time.Duration) error {
	a.mu.RLock()
	last := a.lastTick
	a.mu.RUnlock()

	if last.IsZero() {
		return errors.New("no successful tick yet")
	}
	if age := a.now().Sub(last); age > maxAge {
		return fmt.Errorf("last successful tick %v ago", age.Round(time.Second))
	}
	return nil
}

var _ ClusterAPI = (*client.ClusterClient)(nil)
var _ DemandSource = (*demand.Aggregator)(nil)
