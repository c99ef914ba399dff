package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport provides a mock Doer for testing. Responses are queued per
// method and path; the last queued response repeats once the queue drains.
type MockTransport struct {
	mu sync.Mutex

	responses map[string][]mockResponse

	// Request tracking
	Requests []Request
}

type mockResponse struct {
	body interface{}
	err  error
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses: make(map[string][]mockResponse),
	}
}

// Do records req and replays the next configured response.
func (m *MockTransport) Do(ctx context.Context, req *Request, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, *req)

	key := req.Method + " " + req.Path
	queue := m.responses[key]
	if len(queue) == 0 {
		return fmt.Errorf("no mock response for %s", key)
	}

	resp := queue[0]
	if len(queue) > 1 {
		m.responses[key] = queue[1:]
	}

	if resp.err != nil {
		return resp.err
	}
	if out == nil || resp.body == nil {
		return nil
	}

	data, err := json.Marshal(resp.body)
	if err != nil {
		return fmt.Errorf("marshal mock response: %w", err)
	}
	return json.Unmarshal(data, out)
}

// AddResponse queues a successful response.
func (m *MockTransport) AddResponse(method, path string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + path
	m.responses[key] = append(m.responses[key], mockResponse{body: response})
}

// AddError queues a failure.
func (m *MockTransport) AddError(method, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + path
	m.responses[key] = append(m.responses[key], mockResponse{err: err})
}

// Calls counts requests sent to method and path.
func (m *MockTransport) Calls(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent request, or nil.
func (m *MockTransport) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Requests) == 0 {
		return nil
	}
	r := m.Requests[len(m.Requests)-1]
	return &r
}
