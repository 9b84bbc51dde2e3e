// Package client provides an HTTP client for the cluster management API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrClusterUnavailable reports that the cluster could not be read or that a
// scale request was not accepted.
var ErrClusterUnavailable = errors.New("cluster unavailable")

// ClusterClient reads and changes the worker count of clusters managed by an
// oshinko-style REST API. It is safe for concurrent use by multiple goroutines.
type ClusterClient struct {
	baseURL     string
	httpClient  *http.Client
	masterCount int
}

// NewClusterClient creates a new client for the cluster management API.
// The baseURL should include the scheme and host (e.g., "http://oshinko:8080").
// A default timeout of 10 seconds is used for HTTP requests.
func NewClusterClient(baseURL string) *ClusterClient {
	return NewClusterClientWithTimeout(baseURL, 10*time.Second)
}

// NewClusterClientWithTimeout creates a new client with a custom timeout.
func NewClusterClientWithTimeout(baseURL string, timeout time.Duration) *ClusterClient {
	return &ClusterClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithMasterCount makes scale requests carry masterCount. Zero omits it.
func (c *ClusterClient) WithMasterCount(n int) *ClusterClient {
	c.masterCount = n
	return c
}

// ClusterURL builds a base URL from a service host and port, as exported to
// pods through OSHINKO_REST_SERVICE_HOST and OSHINKO_REST_SERVICE_PORT.
func ClusterURL(host, port string) string {
	if host == "" {
		return ""
	}
	if port == "" {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, port)
}

// ClusterConfig is the configurable part of a cluster. Absent fields
// decode to 0.
type ClusterConfig struct {
	WorkerCount int `json:"workerCount"`
	MasterCount int `json:"masterCount,omitempty"`
}

// ClusterResponse represents the JSON response from GET /clusters/<id>.
type ClusterResponse struct {
	Cluster struct {
		Name   string        `json:"name"`
		Config ClusterConfig `json:"config"`
	} `json:"cluster"`
}

// ScaleRequest is the body of PUT /clusters/<id>.
type ScaleRequest struct {
	Name   string        `json:"name"`
	Config ClusterConfig `json:"config"`
}

// GetWorkerCount fetches the currently configured worker count of a cluster.
// Errors wrap ErrClusterUnavailable.
func (c *ClusterClient) GetWorkerCount(ctx context.Context, cluster string) (int, error) {
	u, err := c.clusterURL(cluster)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: request failed: %w", ErrClusterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status code: %d", ErrClusterUnavailable, resp.StatusCode)
	}

	var clusterResp ClusterResponse
	if err := json.NewDecoder(resp.Body).Decode(&clusterResp); err != nil {
		return 0, fmt.Errorf("%w: failed to decode response: %w", ErrClusterUnavailable, err)
	}

	return clusterResp.Cluster.Config.WorkerCount, nil
}

// SetWorkerCount asks the API to resize a cluster to n workers and returns the
// response status code. It does not wait for the cluster to converge and never
// retries. A non-2xx status is returned as an error wrapping
// ErrClusterUnavailable.
func (c *ClusterClient) SetWorkerCount(ctx context.Context, cluster string, n int) (int, error) {
	u, err := c.clusterURL(cluster)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("worker count cannot be negative: %d", n)
	}

	body, err := json.Marshal(ScaleRequest{
		Name:   cluster,
		Config: ClusterConfig{WorkerCount: n, MasterCount: c.masterCount},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: request failed: %w", ErrClusterUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: scale request rejected: status %d", ErrClusterUnavailable, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (c *ClusterClient) clusterURL(cluster string) (string, error) {
	if cluster == "" {
		return "", fmt.Errorf("cluster cannot be empty")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	return u.JoinPath("clusters", cluster).String(), nil
}
