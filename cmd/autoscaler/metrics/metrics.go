// Package metrics provides Prometheus instrumentation for the autoscaler.
//
// Metrics exposed (all carry a constant "cluster" label):
//   - workerscaler_ticks_total: Counter of control-loop ticks by result
//   - workerscaler_tick_duration_seconds: Histogram of tick durations
//   - workerscaler_demand_current: Gauge of the demand computed on the last tick
//   - workerscaler_demand_target: Gauge of the window maximum used as target
//   - workerscaler_cluster_workers: Gauge of the worker count reported by the cluster
//   - workerscaler_scale_requests_total: Counter of scale requests by direction and status
//   - workerscaler_series_missing_total: Counter of series excluded for lack of a value
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick results.
const (
	ResultOK                 = "ok"
	ResultBackendUnavailable = "backend_unavailable"
	ResultDemandFailed       = "demand_failed"
	ResultClusterUnavailable = "cluster_unavailable"
	ResultScaleFailed        = "scale_failed"
)

type Metrics struct {
	TicksTotal         *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	DemandCurrent      prometheus.Gauge
	DemandTarget       prometheus.Gauge
	ClusterWorkers     prometheus.Gauge
	ScaleRequestsTotal *prometheus.CounterVec
	SeriesMissingTotal prometheus.Counter
}

// New registers the autoscaler metrics for cluster with reg.
func New(reg prometheus.Registerer, cluster string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"cluster": cluster}

	return &Metrics{
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "workerscaler_ticks_total",
			Help:        "Total number of control-loop ticks by result",
			ConstLabels: labels,
		}, []string{"result"}),

		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "workerscaler_tick_duration_seconds",
			Help:        "Duration of control-loop ticks",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),

		DemandCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "workerscaler_demand_current",
			Help:        "Worker demand computed on the last tick",
			ConstLabels: labels,
		}),

		DemandTarget: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "workerscaler_demand_target",
			Help:        "Maximum demand over the smoothing window",
			ConstLabels: labels,
		}),

		ClusterWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "workerscaler_cluster_workers",
			Help:        "Worker count reported by the cluster API",
			ConstLabels: labels,
		}),

		ScaleRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "workerscaler_scale_requests_total",
			Help:        "Total number of scale requests by direction and status",
			ConstLabels: labels,
		}, []string{"direction", "status"}),

		SeriesMissingTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "workerscaler_series_missing_total",
			Help:        "Total number of matching series excluded for lack of a value",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) RecordTick(result string, seconds float64) {
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) SetDemand(current, target int) {
	m.DemandCurrent.Set(float64(current))
	m.DemandTarget.Set(float64(target))
}

func (m *Metrics) SetClusterWorkers(n int) {
	m.ClusterWorkers.Set(float64(n))
}

func (m *Metrics) RecordScaleRequest(direction string, ok bool) {
	status := "accepted"
	if !ok {
		status = "failed"
	}
	m.ScaleRequestsTotal.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) RecordMissingSeries(n int) {
	if n > 0 {
		m.SeriesMissingTotal.Add(float64(n))
	}
}
