package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPClient implements Client over HTTP JSON-RPC with endpoint failover.
type HTTPClient struct {
	endpoints []string
	health    HealthTracker
	client    *http.Client
	requestID atomic.Int64
}

// NewHTTPClient creates an HTTP RPC client. At least one endpoint is
// required; endpoints are tried in health-then-declaration order.
func NewHTTPClient(endpoints []string, timeout time.Duration, health HealthTracker) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if health == nil {
		health = NewCircuitHealthTracker()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoints: endpoints,
		health:    health,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// Call executes a single JSON-RPC method call with automatic failover.
func (c *HTTPClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var lastErr error
	for _, endpoint := range c.orderedEndpoints() {
		result, err := c.callEndpoint(ctx, endpoint, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all RPC endpoints failed, last error: %w", lastErr)
}

// CallBatch executes multiple JSON-RPC calls sequentially, each with the
// same endpoint failover as Call, preserving request order.
func (c *HTTPClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(requests))
	for i, req := range requests {
		result, err := c.Call(ctx, req.Method, req.Params)
		if err != nil {
			return nil, fmt.Errorf("batch request %d (%s): %w", i, req.Method, err)
		}
		results[i] = result
	}
	return results, nil
}

// Close releases the underlying transport.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// orderedEndpoints returns healthy endpoints first, preserving the
// declared order within each group.
func (c *HTTPClient) orderedEndpoints() []string {
	healthy := make([]string, 0, len(c.endpoints))
	var unhealthy []string
	for _, e := range c.endpoints {
		if c.health.IsHealthy(e) {
			healthy = append(healthy, e)
		} else {
			unhealthy = append(unhealthy, e)
		}
	}
	return append(healthy, unhealthy...)
}

func (c *HTTPClient) callEndpoint(ctx context.Context, endpoint, method string, params interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.requestID.Add(1),
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.health.RecordFailure(endpoint, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.RecordFailure(endpoint, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d from %s", resp.StatusCode, endpoint)
		c.health.RecordFailure(endpoint, err)
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		c.health.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		// A JSON-RPC error is a node-level answer; the endpoint itself is fine.
		c.health.RecordSuccess(endpoint, time.Since(start).Milliseconds())
		return nil, rpcResp.Error
	}

	c.health.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return rpcResp.Result, nil
}
