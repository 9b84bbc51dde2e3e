package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusAdapter samples series from the Prometheus HTTP API.
//
// The index is the set of metric names (label values of __name__) seen in the
// last IndexWindow. The latest value of a series is the instant query
// last_over_time(<name>[<lookback>]), summed over every label set it yields.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// IndexWindow restricts the index to recently published names
	// (defaults to 1m if <= 0).
	IndexWindow time.Duration
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

func (p *PrometheusAdapter) api() (v1.API, error) {
	if p.ServerURL == "" {
		return nil, errors.New("prometheus adapter: ServerURL is required")
	}
	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	c, err := api.NewClient(api.Config{Address: p.ServerURL, Client: cli})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return v1.NewAPI(c), nil
}

// ListMatching implements Sampler.
func (p *PrometheusAdapter) ListMatching(ctx context.Context, pattern *regexp.Regexp) ([]string, error) {
	if pattern == nil {
		return nil, errors.New("prometheus adapter: pattern is required")
	}
	a, err := p.api()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	window := p.IndexWindow
	if window <= 0 {
		window = time.Minute
	}

	end := time.Now()
	values, _, err := a.LabelValues(ctx, model.MetricNameLabel, nil, end.Add(-window), end)
	if err != nil {
		return nil, fmt.Errorf("%w: label values: %w", ErrBackendUnavailable, err)
	}

	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, string(v))
	}
	return filterMatching(names, pattern), nil
}

// LatestValue implements Sampler.
func (p *PrometheusAdapter) LatestValue(ctx context.Context, name string, lookback time.Duration) (float64, error) {
	a, err := p.api()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	if lookback <= 0 {
		lookback = time.Minute
	}

	query := fmt.Sprintf("last_over_time(%s[%s])", name, model.Duration(lookback))
	val, _, err := a.Query(ctx, query, time.Now())
	if err != nil {
		var apiErr *v1.Error
		if errors.As(err, &apiErr) && apiErr.Type == v1.ErrBadData {
			return 0, fmt.Errorf("%w: %s: %w", ErrNoValue, name, err)
		}
		return 0, fmt.Errorf("%w: query %s: %w", ErrBackendUnavailable, name, err)
	}

	vec, ok := val.(model.Vector)
	if !ok {
		return 0, fmt.Errorf("%w: %s: unexpected result type %T", ErrNoValue, name, val)
	}

	// Each label set under name is one job reporting demand.
	total, n := 0.0, 0
	for _, sample := range vec {
		v := float64(sample.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		total += v
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s: no finite samples in %d series", ErrNoValue, name, len(vec))
	}
	return total, nil
}
