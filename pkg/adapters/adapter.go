package adapters

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrBackendUnavailable reports that the metrics backend could not be
	// queried: transport failure, non-2xx status or an undecodable index.
	ErrBackendUnavailable = errors.New("metrics backend unavailable")

	// ErrNoValue reports that a series had no usable sample in the lookback
	// window. Callers exclude the series rather than failing.
	ErrNoValue = errors.New("no value")
)

// Datapoint is a single (timestamp, value) sample. Value is nil when the
// backend reported a gap.
type Datapoint struct {
	Timestamp time.Time
	Value     *float64
}

// Series is a named, time-ordered sequence of datapoints as returned by a
// backend query. Series are fetched fresh for every query.
type Series struct {
	Name       string
	Datapoints []Datapoint
}

// Latest returns the most recent non-nil value of the series.
func (s Series) Latest() (float64, bool) {
	for i := len(s.Datapoints) - 1; i >= 0; i-- {
		if v := s.Datapoints[i].Value; v != nil {
			return *v, true
		}
	}
	return 0, false
}

// Sampler is the interface that all metrics backends must implement.
//
// Both calls are synchronous and must respect context cancellation and
// deadlines. Implementations bound every request with a finite timeout.
type Sampler interface {
	// ListMatching returns the names of all currently published series that
	// match pattern. An empty result is not an error.
	ListMatching(ctx context.Context, pattern *regexp.Regexp) ([]string, error)

	// LatestValue returns the most recent non-null sample of name within
	// lookback. Errors wrap ErrNoValue or ErrBackendUnavailable.
	LatestValue(ctx context.Context, name string, lookback time.Duration) (float64, error)

	// Name returns a short, unique identifier for the backend.
	// Example: "graphite", "prometheus".
	Name() string
}

// CompilePattern compiles a series name pattern. Patterns are anchored at the
// start of the name, so ".*\.numberTargetExecutors$" and
// "app-1\..*" both behave as prefix-anchored matches.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("empty series pattern")
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid series pattern %q: %w", pattern, err)
	}
	return re, nil
}

func filterMatching(names []string, pattern *regexp.Regexp) []string {
	matching := make([]string, 0, len(names))
	for _, name := range names {
		if pattern.MatchString(name) {
			matching = append(matching, name)
		}
	}
	return matching
}
