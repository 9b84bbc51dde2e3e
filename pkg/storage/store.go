// Package storage keeps the latest control-loop status per cluster so that it
// can be served to operators. The control loop never reads it back.
package storage

import (
	"context"
	"time"
)

// Status is a report of one control-loop tick.
type Status struct {
	Cluster     string    `json:"cluster"`
	GeneratedAt time.Time `json:"generatedAt"`

	// Demand is the floored sum computed this tick.
	Demand int `json:"demand"`
	// Window holds the trailing demand values, oldest first.
	Window []int `json:"window"`
	// Target is the maximum of Window.
	Target int `json:"target"`

	// Available is the worker count reported by the cluster API.
	Available int `json:"available"`

	// Decision is the policy outcome, e.g. "ScaleTo(6)" or "NoChange".
	Decision string `json:"decision"`
	// Requested is the worker count sent to the cluster API, 0 if none.
	Requested int `json:"requested,omitempty"`

	Series        int `json:"series"`
	MissingSeries int `json:"missingSeries"`

	MetricsReachable bool `json:"metricsReachable"`
	ClusterReachable bool `json:"clusterReachable"`

	// Error is the tick error text, if any.
	Error string `json:"error,omitempty"`
}

type Store interface {
	Put(ctx context.Context, status Status) error
	GetLatest(ctx context.Context, cluster string) (Status, bool, error)
}
