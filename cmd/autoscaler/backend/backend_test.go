package backend

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/HatiCode/workerscaler/cmd/autoscaler/config"
	"github.com/HatiCode/workerscaler/pkg/adapters"
)

func TestOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		backend  string
		wantName string
		wantErr  bool
	}{
		{"graphite", "graphite", false},
		{"prometheus", "prometheus", false},
		{"influx", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{
				MetricsBackend: tt.backend,
				MetricsURL:     "http://metrics:8000",
				IndexWindow:    time.Minute,
				RequestTimeout: 2 * time.Second,
			}
			s, err := Open(cfg, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Open() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if s.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.wantName)
			}
		})
	}
}

func TestOpen_RequestTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{MetricsBackend: "graphite", MetricsURL: "http://graphite", RequestTimeout: 3 * time.Second}

	s, err := Open(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	g, ok := s.(*adapters.GraphiteAdapter)
	if !ok {
		t.Fatalf("Open() = %T, want *adapters.GraphiteAdapter", s)
	}
	if g.HTTPClient == nil || g.HTTPClient.Timeout != 3*time.Second {
		t.Errorf("HTTPClient timeout not applied: %+v", g.HTTPClient)
	}
}
