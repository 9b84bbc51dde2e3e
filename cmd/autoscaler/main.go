package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/workerscaler/cmd/autoscaler/backend"
	"github.com/HatiCode/workerscaler/cmd/autoscaler/config"
	"github.com/HatiCode/workerscaler/cmd/autoscaler/logger"
	"github.com/HatiCode/workerscaler/cmd/autoscaler/metrics"
	"github.com/HatiCode/workerscaler/cmd/autoscaler/router"
	"github.com/HatiCode/workerscaler/cmd/autoscaler/store"
	"github.com/HatiCode/workerscaler/pkg/adapters"
	"github.com/HatiCode/workerscaler/pkg/capacity"
	"github.com/HatiCode/workerscaler/pkg/client"
	"github.com/HatiCode/workerscaler/pkg/demand"
	"github.com/HatiCode/workerscaler/pkg/httpx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting workerscaler",
		"version", "v0.1.0",
		"cluster", cfg.Cluster,
		"cluster_api", cfg.ClusterAPIURL,
		"metrics_backend", cfg.MetricsBackend,
		"metrics_url", cfg.MetricsURL,
		"interval", cfg.Interval,
		"window_size", cfg.WindowSize(),
	)

	pattern, err := adapters.CompilePattern(cfg.MetricPattern)
	if err != nil {
		log.Error("invalid metric pattern", "error", err)
		os.Exit(1)
	}

	sampler := backend.New(cfg, log)
	aggregator := demand.NewAggregator(sampler, pattern, cfg.Lookback, cfg.MinDemand, log)
	clusterAPI := client.NewClusterClientWithTimeout(cfg.ClusterAPIURL, cfg.RequestTimeout).
		WithMasterCount(cfg.MasterCount)

	st := store.New(cfg, log)
	if closer, ok := st.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer, cfg.Cluster)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	a := New(
		cfg.Cluster,
		clusterAPI,
		aggregator,
		capacity.Policy{MaxWorkers: cfg.MaxWorkers},
		demand.NewWindow(cfg.WindowSize()),
		st,
		m,
		healthServer,
		log,
	)

	staleAfter := 3 * cfg.Interval
	handler := router.SetupRoutes(st, cfg.Cluster, staleAfter, func() error { return a.Ready(staleAfter) }, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	var grpcServer *grpc.Server
	var lis net.Listener
	if cfg.GRPCListen != "" {
		lis, err = net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		reflection.Register(grpcServer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.Run(ctx, cfg.Interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return httpServer.Start()
	})

	if grpcServer != nil {
		g.Go(func() error {
			log.Info("grpc server listening", "address", cfg.GRPCListen)
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		healthServer.Shutdown()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpServer.Stop(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		log.Error("workerscaler stopped with error", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
