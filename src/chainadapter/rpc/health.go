package rpc

import (
	"sync"
	"time"
)

// endpointHealth accumulates per-endpoint call outcomes.
type endpointHealth struct {
	consecutiveFailures  int
	consecutiveSuccesses int
	avgLatencyMs         int64
	circuitOpen          bool
	circuitOpenedAt      time.Time
}

// CircuitHealthTracker implements HealthTracker with a circuit breaker:
// the circuit opens after a run of failures and is retried after a
// cool-down window.
type CircuitHealthTracker struct {
	mu     sync.Mutex
	health map[string]*endpointHealth

	failureThreshold  int
	successThreshold  int
	circuitOpenWindow time.Duration
}

// NewCircuitHealthTracker creates a tracker with default thresholds:
// open after 3 consecutive failures, close after 2 consecutive
// successes, retry an open circuit after 30s.
func NewCircuitHealthTracker() *CircuitHealthTracker {
	return &CircuitHealthTracker{
		health:            make(map[string]*endpointHealth),
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *CircuitHealthTracker) get(endpoint string) *endpointHealth {
	h, ok := t.health[endpoint]
	if !ok {
		h = &endpointHealth{}
		t.health[endpoint] = h
	}
	return h
}

// RecordSuccess records a successful RPC call.
func (t *CircuitHealthTracker) RecordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(endpoint)
	h.consecutiveFailures = 0
	h.consecutiveSuccesses++
	if h.avgLatencyMs == 0 {
		h.avgLatencyMs = durationMs
	} else {
		h.avgLatencyMs = (h.avgLatencyMs*9 + durationMs) / 10
	}
	if h.circuitOpen && h.consecutiveSuccesses >= t.successThreshold {
		h.circuitOpen = false
	}
}

// RecordFailure records a failed RPC call.
func (t *CircuitHealthTracker) RecordFailure(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(endpoint)
	h.consecutiveSuccesses = 0
	h.consecutiveFailures++
	if h.consecutiveFailures >= t.failureThreshold && !h.circuitOpen {
		h.circuitOpen = true
		h.circuitOpenedAt = time.Now()
	}
}

// IsHealthy reports whether the endpoint's circuit is closed. An open
// circuit becomes probeable again after the cool-down window.
func (t *CircuitHealthTracker) IsHealthy(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.health[endpoint]
	if !ok {
		return true
	}
	if !h.circuitOpen {
		return true
	}
	if time.Since(h.circuitOpenedAt) > t.circuitOpenWindow {
		// Allow a probe; a success will close the circuit.
		return true
	}
	return false
}
