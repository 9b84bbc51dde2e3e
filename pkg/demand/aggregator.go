// Package demand turns per-job executor metrics into a single worker demand
// figure and smooths it over a trailing window.
package demand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/HatiCode/workerscaler/pkg/adapters"
)

// DefaultMinDemand is the floor applied to the summed demand. Scale-to-zero is
// vetoed separately by the capacity policy, so 0 is safe here.
const DefaultMinDemand = 0

// Sample is the latest value of one series.
type Sample struct {
	Series string
	Value  float64
}

// Demand is the result of one aggregation pass.
type Demand struct {
	// Total is the floored worker demand.
	Total int
	// Series is the number of series that contributed a value.
	Series int
	// Missing is the number of matching series excluded for lack of a value.
	Missing int
}

// Sum adds up sample values, rounds the total up to a whole worker count and
// floors it at floor. Non-finite values are ignored and totals past
// math.MaxInt saturate. The order of samples does not affect the result.
func Sum(samples []Sample, floor int) int {
	if floor < 0 {
		floor = 0
	}
	total := 0.0
	for _, s := range samples {
		if isFinite(s.Value) {
			total += s.Value
		}
	}
	total = math.Ceil(total)
	if total >= math.MaxInt {
		return math.MaxInt
	}
	n := int(total)
	if n < floor {
		return floor
	}
	return n
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Aggregator collects the latest value of every series matching a pattern and
// sums them into a Demand.
type Aggregator struct {
	sampler  adapters.Sampler
	pattern  *regexp.Regexp
	lookback time.Duration
	floor    int
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. A nil logger uses slog.Default().
func NewAggregator(sampler adapters.Sampler, pattern *regexp.Regexp, lookback time.Duration, floor int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sampler:  sampler,
		pattern:  pattern,
		lookback: lookback,
		floor:    floor,
		logger:   logger,
	}
}

// Collect lists matching series and fetches their latest values one by one.
// Series without a value are skipped and counted in missing. Only a failure
// to list series is returned as an error.
func (a *Aggregator) Collect(ctx context.Context) (samples []Sample, missing int, err error) {
	names, err := a.sampler.ListMatching(ctx, a.pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("list series: %w", err)
	}
	if len(names) == 0 {
		a.logger.Info("no series matched", "backend", a.sampler.Name(), "pattern", a.pattern.String())
		return nil, 0, nil
	}

	samples = make([]Sample, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		v, err := a.sampler.LatestValue(ctx, name, a.lookback)
		if err != nil {
			missing++
			level := slog.LevelDebug
			if !errors.Is(err, adapters.ErrNoValue) {
				level = slog.LevelWarn
			}
			a.logger.Log(ctx, level, "series excluded", "series", name, "error", err)
			continue
		}
		if !isFinite(v) {
			missing++
			a.logger.Warn("series excluded", "series", name, "error", fmt.Errorf("%w: non-finite value %v", adapters.ErrNoValue, v))
			continue
		}
		samples = append(samples, Sample{Series: name, Value: v})
	}
	return samples, missing, nil
}

// Compute collects samples and sums them.
func (a *Aggregator) Compute(ctx context.Context) (Demand, error) {
	samples, missing, err := a.Collect(ctx)
	if err != nil {
		return Demand{}, err
	}
	return Demand{
		Total:   Sum(samples, a.floor),
		Series:  len(samples),
		Missing: missing,
	}, nil
}
