package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient is a scriptable Client for tests. Responses and errors are
// configured per method; call counts are recorded.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]interface{}
	errors    map[string]error
	callCount map[string]int
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string]interface{}),
		errors:    make(map[string]error),
		callCount: make(map[string]int),
	}
}

// SetResponse configures the value returned for a method.
func (m *MockClient) SetResponse(method string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = response
	delete(m.errors, method)
}

// SetError configures an error returned for a method.
func (m *MockClient) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// CallCount returns how many times a method was called.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[method]
}

// Call returns the scripted response or error for the method.
func (m *MockClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount[method]++
	if err, ok := m.errors[method]; ok {
		return nil, err
	}
	response, ok := m.responses[method]
	if !ok {
		return nil, fmt.Errorf("no mock response configured for method: %s", method)
	}
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("marshal mock response: %w", err)
	}
	return json.RawMessage(data), nil
}

// CallBatch executes each call individually.
func (m *MockClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(requests))
	for i, req := range requests {
		result, err := m.Call(ctx, req.Method, req.Params)
		if err != nil {
			return nil, err
		}
		results[i] = result
	}
	return results, nil
}

// Close is a no-op.
func (m *MockClient) Close() error {
	return nil
}
