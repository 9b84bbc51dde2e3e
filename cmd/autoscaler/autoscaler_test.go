package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/workerscaler/cmd/autoscaler/metrics"
	"github.com/HatiCode/workerscaler/pkg/adapters"
	"github.com/HatiCode/workerscaler/pkg/capacity"
	"github.com/HatiCode/workerscaler/pkg/client"
	"github.com/HatiCode/workerscaler/pkg/demand"
	"github.com/HatiCode/workerscaler/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCluster applies successful writes to its worker count.
type fakeCluster struct {
	mu      sync.Mutex
	workers int
	readErr error
	scaleFn func(n int) error
	writes  []int
}

func (f *fakeCluster) GetWorkerCount(ctx context.Context, cluster string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.workers, nil
}

func (f *fakeCluster) SetWorkerCount(ctx context.Context, cluster string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, n)
	if f.scaleFn != nil {
		if err := f.scaleFn(n); err != nil {
			return 500, err
		}
	}
	f.workers = n
	return 200, nil
}

func (f *fakeCluster) Writes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

// fakeDemand returns the queued values in order, then repeats the last one.
type fakeDemand struct {
	mu     sync.Mutex
	values []int
	err    error
	calls  int
	onCall func(call int)
}

func (f *fakeDemand) Compute(ctx context.Context) (demand.Demand, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var d demand.Demand
	err := f.err
	if err == nil && len(f.values) > 0 {
		i := min(call-1, len(f.values)-1)
		d = demand.Demand{Total: f.values[i], Series: 1}
	}
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}
	return d, err
}

type fixture struct {
	cluster *fakeCluster
	demand  *fakeDemand
	store   *storage.MemoryStore
	metrics *metrics.Metrics
	health  *health.Server
	a       *Autoscaler
}

func newFixture(t *testing.T, windowSize, available int, values ...int) *fixture {
	t.Helper()
	f := &fixture{
		cluster: &fakeCluster{workers: available},
		demand:  &fakeDemand{values: values},
		store:   storage.NewMemoryStore(),
		metrics: metrics.New(prometheus.NewRegistry(), "spark"),
		health:  health.NewServer(),
	}
	f.a = New(
		"spark",
		f.cluster,
		f.demand,
		capacity.Policy{},
		demand.NewWindow(windowSize),
		f.store,
		f.metrics,
		f.health,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func (f *fixture) latest(t *testing.T) storage.Status {
	t.Helper()
	s, found, err := f.store.GetLatest(context.Background(), "spark")
	if err != nil || !found {
		t.Fatalf("GetLatest() = %v, %v", found, err)
	}
	return s
}

func (f *fixture) serving(t *testing.T) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := f.health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health Check() error = %v", err)
	}
	return resp.Status
}

func TestTick_EndToEndBurst(t *testing.T) {
	f := newFixture(t, 6, 1, 1, 1, 1, 8, 1, 1)
	ctx := context.Background()

	wantDecisions := []string{"NoChange", "NoChange", "NoChange", "ScaleTo(8)", "NoChange", "NoChange"}
	for i, want := range wantDecisions {
		if err := f.a.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
		if got := f.latest(t).Decision; got != want {
			t.Errorf("tick %d decision = %q, want %q", i+1, got, want)
		}
	}

	if got := f.cluster.Writes(); !slices.Equal(got, []int{8}) {
		t.Errorf("writes = %v, want [8]", got)
	}
	if got := f.latest(t); got.Target != 8 || got.Available != 8 {
		t.Errorf("final target/available = %d/%d, want 8/8", got.Target, got.Available)
	}
	if got := testutil.ToFloat64(f.metrics.ScaleRequestsTotal.WithLabelValues("up", "accepted")); got != 1 {
		t.Errorf("up/accepted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.TicksTotal.WithLabelValues(metrics.ResultOK)); got != 6 {
		t.Errorf("ok ticks = %v, want 6", got)
	}
}

func TestTick_ScaleDownConverges(t *testing.T) {
	f := newFixture(t, 1, 10, 2)
	ctx := context.Background()

	for range 10 {
		if err := f.a.Tick(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if got, want := f.cluster.Writes(), []int{6, 4, 3, 2}; !slices.Equal(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(f.metrics.ScaleRequestsTotal.WithLabelValues("down", "accepted")); got != 4 {
		t.Errorf("down/accepted = %v, want 4", got)
	}
}

func TestTick_NoChangeNeverWrites(t *testing.T) {
	f := newFixture(t, 3, 4, 4)

	for range 5 {
		if err := f.a.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if got := f.cluster.Writes(); len(got) != 0 {
		t.Errorf("writes = %v, want none", got)
	}
}

func TestTick_ZeroDemandSuppressed(t *testing.T) {
	f := newFixture(t, 1, 3, 0)

	if err := f.a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := f.cluster.Writes(); len(got) != 0 {
		t.Errorf("writes = %v, want none", got)
	}
	if got := f.latest(t).Decision; got != "NoChange(suppressed scale to zero)" {
		t.Errorf("decision = %q", got)
	}
}

func TestTick_ClusterUnavailableUpdatesWindow(t *testing.T) {
	f := newFixture(t, 6, 1, 5)
	f.cluster.readErr = fmt.Errorf("read cluster: %w", client.ErrClusterUnavailable)

	err := f.a.Tick(context.Background())

	if !errors.Is(err, client.ErrClusterUnavailable) {
		t.Fatalf("Tick() error = %v, want ErrClusterUnavailable", err)
	}
	if got := f.cluster.Writes(); len(got) != 0 {
		t.Errorf("writes = %v, want none", got)
	}
	if got := f.a.window.Values(); !slices.Equal(got, []int{5}) {
		t.Errorf("window = %v, want [5]", got)
	}
	s := f.latest(t)
	if s.ClusterReachable || !s.MetricsReachable || s.Target != 5 {
		t.Errorf("status = %+v", s)
	}
	if got := f.serving(t); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("health = %v, want NOT_SERVING", got)
	}

	// Recovery: the remembered target is acted upon.
	f.cluster.readErr = nil
	if err := f.a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.cluster.Writes(); !slices.Equal(got, []int{5}) {
		t.Errorf("writes = %v, want [5]", got)
	}
	if got := f.serving(t); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("health = %v, want SERVING", got)
	}
}

func TestTick_BackendUnavailableSkipsSample(t *testing.T) {
	f := newFixture(t, 6, 1, 3)
	ctx := context.Background()

	if err := f.a.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	f.demand.err = fmt.Errorf("list series: %w", adapters.ErrBackendUnavailable)

	err := f.a.Tick(ctx)

	if !errors.Is(err, adapters.ErrBackendUnavailable) {
		t.Fatalf("Tick() error = %v, want ErrBackendUnavailable", err)
	}
	if got := f.a.window.Values(); !slices.Equal(got, []int{3}) {
		t.Errorf("window = %v, want [3]", got)
	}
	if got := f.cluster.Writes(); !slices.Equal(got, []int{3}) {
		t.Errorf("writes = %v, want [3]", got)
	}
	if s := f.latest(t); s.MetricsReachable || s.Decision != "" {
		t.Errorf("status = %+v", s)
	}
	if got := testutil.ToFloat64(f.metrics.TicksTotal.WithLabelValues(metrics.ResultBackendUnavailable)); got != 1 {
		t.Errorf("backend_unavailable ticks = %v, want 1", got)
	}
}

func TestTick_CanceledDuringDemandIsNotPublished(t *testing.T) {
	f := newFixture(t, 6, 1, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.a.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	before := f.latest(t)

	f.demand.err = context.Canceled
	f.demand.onCall = func(int) { cancel() }

	if err := f.a.Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick() error = %v, want context.Canceled", err)
	}
	if got := testutil.ToFloat64(f.metrics.TicksTotal.WithLabelValues(metrics.ResultBackendUnavailable)); got != 0 {
		t.Errorf("backend_unavailable ticks = %v, want 0", got)
	}
	if got := f.latest(t); !got.GeneratedAt.Equal(before.GeneratedAt) || !got.MetricsReachable {
		t.Errorf("status was overwritten: %+v", got)
	}
	if got := f.serving(t); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("health = %v, want SERVING", got)
	}
}

func TestTick_DemandFailureClassified(t *testing.T) {
	f := newFixture(t, 6, 1, 3)
	f.demand.err = errors.New("aggregator misconfigured")

	if err := f.a.Tick(context.Background()); err == nil {
		t.Fatal("Tick() expected error")
	}
	if got := testutil.ToFloat64(f.metrics.TicksTotal.WithLabelValues(metrics.ResultDemandFailed)); got != 1 {
		t.Errorf("demand_failed ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.TicksTotal.WithLabelValues(metrics.ResultBackendUnavailable)); got != 0 {
		t.Errorf("backend_unavailable ticks = %v, want 0", got)
	}
}

func TestTick_ScaleFailureNotRetried(t *testing.T) {
	f := newFixture(t, 1, 1, 4)
	f.cluster.scaleFn = func(int) error {
		return fmt.Errorf("status 500: %w", client.ErrClusterUnavailable)
	}

	err := f.a.Tick(context.Background())

	if !errors.Is(err, client.ErrClusterUnavailable) {
		t.Fatalf("Tick() error = %v", err)
	}
	if got := f.cluster.Writes(); !slices.Equal(got, []int{4}) {
		t.Errorf("writes = %v, want a single attempt", got)
	}
	if got := testutil.ToFloat64(f.metrics.ScaleRequestsTotal.WithLabelValues("up", "failed")); got != 1 {
		t.Errorf("up/failed = %v, want 1", got)
	}
	if s := f.latest(t); s.Requested != 0 || s.Error == "" {
		t.Errorf("status = %+v", s)
	}
}

func TestReady(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.a.now = func() time.Time { return now }

	if err := f.a.Ready(time.Minute); err == nil {
		t.Error("Ready() before any tick should fail")
	}

	if err := f.a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.a.Ready(time.Minute); err != nil {
		t.Errorf("Ready() after tick = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := f.a.Ready(time.Minute); err == nil {
		t.Error("Ready() should fail once the last tick is stale")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, 6, 1, 1, 1, 1, 8, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.demand.onCall = func(call int) {
		if call == 6 {
			cancel()
		}
	}

	err := f.a.Run(ctx, time.Millisecond)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	f.demand.mu.Lock()
	calls := f.demand.calls
	f.demand.mu.Unlock()
	if calls != 6 {
		t.Errorf("ticks = %d, want 6", calls)
	}
	if got := f.cluster.Writes(); !slices.Equal(got, []int{8}) {
		t.Errorf("writes = %v, want [8]", got)
	}
}

func TestRun_TickErrorsDoNotStopLoop(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	f.cluster.readErr = client.ErrClusterUnavailable
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.demand.onCall = func(call int) {
		if call == 3 {
			cancel()
		}
	}

	if err := f.a.Run(ctx, time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.TicksTotal.WithLabelValues(metrics.ResultClusterUnavailable)); got != 3 {
		t.Errorf("cluster_unavailable ticks = %v, want 3", got)
	}
}
