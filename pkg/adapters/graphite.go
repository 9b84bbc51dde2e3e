// Package adapters provides metrics backend connectors that sample the demand
// signal the autoscaler reacts to.
//
// Each adapter implements the Sampler interface:
//   - GraphiteAdapter: Graphite render API (/metrics/index.json, /render)
//   - PrometheusAdapter: Prometheus HTTP API (label values, instant queries)
//
// Adapters only fetch and decode. Summing, windowing and scaling decisions
// live in the demand and capacity packages.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// GraphiteAdapter samples series from a Graphite-compatible render API.
//
// The index is read from GET /metrics/index.json?from=-<IndexWindow> and values
// from GET /render?target=<name>&format=json&from=-<lookback>, which returns:
//
//	[{"target": "<name>", "datapoints": [[<value|null>, <unix_ts>], ...]}]
type GraphiteAdapter struct {
	// ServerURL is the base URL of the render API, e.g. http://graphite:8000
	ServerURL string
	// IndexWindow restricts the index to series published recently
	// (defaults to 1m if <= 0).
	IndexWindow time.Duration
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (g *GraphiteAdapter) Name() string { return "graphite" }

// ListMatching implements Sampler.
func (g *GraphiteAdapter) ListMatching(ctx context.Context, pattern *regexp.Regexp) ([]string, error) {
	if pattern == nil {
		return nil, errors.New("graphite adapter: pattern is required")
	}
	window := g.IndexWindow
	if window <= 0 {
		window = time.Minute
	}

	q := url.Values{}
	q.Set("from", RelativeTime(window))

	var names []string
	if err := g.getJSON(ctx, "/metrics/index.json", q, &names); err != nil {
		return nil, fmt.Errorf("%w: index: %w", ErrBackendUnavailable, err)
	}
	return filterMatching(names, pattern), nil
}

// LatestValue implements Sampler.
func (g *GraphiteAdapter) LatestValue(ctx context.Context, name string, lookback time.Duration) (float64, error) {
	q := url.Values{}
	q.Set("target", name)
	q.Set("format", "json")
	q.Set("from", RelativeTime(lookback))

	var resp []graphiteRenderSerie
	if err := g.getJSON(ctx, "/render", q, &resp); err != nil {
		var decodeErr *decodeError
		if errors.As(err, &decodeErr) {
			return 0, fmt.Errorf("%w: %s: %w", ErrNoValue, name, err)
		}
		return 0, fmt.Errorf("%w: render %s: %w", ErrBackendUnavailable, name, err)
	}
	if len(resp) != 1 {
		return 0, fmt.Errorf("%w: %s: expected 1 series, got %d", ErrNoValue, name, len(resp))
	}

	v, ok := resp[0].toSeries().Latest()
	if !ok {
		return 0, fmt.Errorf("%w: %s: no non-null datapoints", ErrNoValue, name)
	}
	return v, nil
}

// graphiteRenderSerie is one element of a /render?format=json response.
// Datapoints are [ <value|null>, <unix_time> ] pairs.
type graphiteRenderSerie struct {
	Target     string        `json:"target"`
	Datapoints [][2]*float64 `json:"datapoints"`
}

func (s graphiteRenderSerie) toSeries() Series {
	points := make([]Datapoint, 0, len(s.Datapoints))
	for _, pair := range s.Datapoints {
		dp := Datapoint{Value: pair[0]}
		if pair[1] != nil {
			dp.Timestamp = time.Unix(int64(*pair[1]), 0).UTC()
		}
		points = append(points, dp)
	}
	return Series{Name: s.Target, Datapoints: points}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (g *GraphiteAdapter) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if g.ServerURL == "" {
		return errors.New("graphite adapter: ServerURL is required")
	}
	u, err := url.Parse(g.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = q.Encode()

	cli := g.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("graphite: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// RelativeTime renders d as a Graphite relative time ("-3min", "-90s").
func RelativeTime(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	secs := int64(d / time.Second)
	if secs == 0 {
		secs = 1
	}
	if secs%60 == 0 {
		return fmt.Sprintf("-%dmin", secs/60)
	}
	return fmt.Sprintf("-%ds", secs)
}
