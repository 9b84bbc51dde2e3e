// Package config provides configuration parsing and validation for the
// autoscaler.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. The Config struct contains all runtime
// configuration needed by the control loop and its observability endpoints.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// The cluster API address falls back to OSHINKO_REST_SERVICE_HOST and
// OSHINKO_REST_SERVICE_PORT, and the cluster name to OSHINKO_SPARK_CLUSTER,
// matching the variables injected into pods next to an oshinko REST service.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/HatiCode/workerscaler/pkg/adapters"
	"github.com/HatiCode/workerscaler/pkg/client"
	"github.com/HatiCode/workerscaler/pkg/demand"
)

// DefaultMetricPattern selects the executor target that Spark's dynamic
// allocation publishes once per running application.
const DefaultMetricPattern = `.*\.numberTargetExecutors$`

// Config holds all autoscaler configuration.
type Config struct {
	// Metrics backend
	MetricsBackend string
	MetricsURL     string
	MetricPattern  string
	Lookback       time.Duration
	IndexWindow    time.Duration

	// Cluster API
	ClusterAPIURL string
	Cluster       string
	MasterCount   int

	// Control loop
	Interval   time.Duration
	Window     time.Duration
	MinDemand  int
	MaxWorkers int

	RequestTimeout time.Duration

	// Servers
	Listen     string
	GRPCListen string

	// Storage
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Logging
	LogFormat string
	LogLevel  string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Exits with status 1 if the result does not pass Validate.
func ParseFlags() *Config {
	cfg := &Config{}

	defaultClusterURL := getEnv("CLUSTER_API_URL", client.ClusterURL(
		os.Getenv("OSHINKO_REST_SERVICE_HOST"),
		os.Getenv("OSHINKO_REST_SERVICE_PORT"),
	))

	// Metrics backend
	flag.StringVar(&cfg.MetricsBackend, "metrics-backend", getEnv("METRICS_BACKEND", "graphite"), "Metrics backend: graphite or prometheus")
	flag.StringVar(&cfg.MetricsURL, "metrics-url", getEnv("METRICS_URL", "http://127.0.0.1:8000"), "Metrics backend URL")
	flag.StringVar(&cfg.MetricPattern, "metric-pattern", getEnv("METRIC_PATTERN", DefaultMetricPattern), "Regular expression selecting demand series")
	flag.DurationVar(&cfg.Lookback, "lookback", getEnvDuration("METRIC_LOOKBACK", 3*time.Minute), "How far back to look for a series' latest value")
	flag.DurationVar(&cfg.IndexWindow, "index-window", getEnvDuration("METRIC_INDEX_WINDOW", time.Minute), "Only list series published within this window")

	// Cluster API
	flag.StringVar(&cfg.ClusterAPIURL, "cluster-api-url", defaultClusterURL, "Cluster management API URL (required)")
	flag.StringVar(&cfg.Cluster, "cluster", getEnv("OSHINKO_SPARK_CLUSTER", ""), "Cluster name (required)")
	flag.IntVar(&cfg.MasterCount, "master-count", getEnvInt("MASTER_COUNT", 0), "masterCount sent with scale requests (0 omits it)")

	// Control loop
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("POLL_INTERVAL", 30*time.Second), "Poll interval")
	flag.DurationVar(&cfg.Window, "window", getEnvDuration("POLL_WINDOW", 3*time.Minute), "Demand smoothing window")
	flag.IntVar(&cfg.MinDemand, "min-demand", getEnvInt("MIN_DEMAND", demand.DefaultMinDemand), "Minimum demand floor")
	flag.IntVar(&cfg.MaxWorkers, "max-workers", getEnvInt("MAX_WORKERS", 0), "Maximum workers (0 means no bound)")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 10*time.Second), "Timeout for every outbound request")

	// Servers
	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC health listen address (empty disables)")

	// Storage
	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Status storage: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", time.Hour), "Redis status TTL")

	// Logging
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	return cfg
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Cluster == "" {
		return errors.New("--cluster is required")
	}
	if c.ClusterAPIURL == "" {
		return errors.New("--cluster-api-url is required")
	}
	if c.MetricsURL == "" {
		return errors.New("--metrics-url is required")
	}
	switch c.MetricsBackend {
	case "graphite", "prometheus":
	default:
		return fmt.Errorf("--metrics-backend must be graphite or prometheus, got %q", c.MetricsBackend)
	}
	if _, err := adapters.CompilePattern(c.MetricPattern); err != nil {
		return fmt.Errorf("--metric-pattern: %w", err)
	}
	if c.Interval <= 0 {
		return errors.New("--interval must be positive")
	}
	if c.Window < c.Interval {
		return fmt.Errorf("--window (%v) must be at least --interval (%v)", c.Window, c.Interval)
	}
	if c.Lookback <= 0 {
		return errors.New("--lookback must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("--request-timeout must be positive")
	}
	if c.MinDemand < 0 {
		return errors.New("--min-demand cannot be negative")
	}
	if c.MaxWorkers < 0 {
		return errors.New("--max-workers cannot be negative")
	}
	switch c.Storage {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required with --storage=redis")
		}
	default:
		return fmt.Errorf("--storage must be memory or redis, got %q", c.Storage)
	}
	return nil
}

// WindowSize is the number of samples the demand window holds.
func (c *Config) WindowSize() int {
	return demand.Size(c.Window, c.Interval)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
