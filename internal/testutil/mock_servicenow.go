package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// ServiceNowCall records one table API write received by MockServiceNow.
type ServiceNowCall struct {
	Method        string
	Table         string
	SysID         string
	Body          map[string]any
	Authorization string
	Status        int
	Timestamp     time.Time
}

// Field returns the single field the call updated.
func (c ServiceNowCall) Field() string {
	for k := range c.Body {
		return k
	}
	return ""
}

// MockServiceNow simulates the ServiceNow table and OAuth token APIs.
// It records every write and fails the ones matched by its failure rules.
type MockServiceNow struct {
	mu sync.RWMutex
	t  *testing.T

	Server *httptest.Server

	// failures maps "field" or "field=value" to the status returned.
	failures map[string]int

	Calls         []ServiceNowCall
	TokenRequests int
}

// NewMockServiceNow starts a mock server that is closed when the test ends.
func NewMockServiceNow(t *testing.T) *MockServiceNow {
	t.Helper()
	m := &MockServiceNow{
		t:        t,
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/now/table/{table}/{sys_id}", m.handleTable)
	mux.HandleFunc("POST /oauth_token.do", m.handleToken)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the endpoint to configure clients with.
func (m *MockServiceNow) URL() string {
	return m.Server.URL
}

// FailField makes every write of field answer with status.
func (m *MockServiceNow) FailField(field string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[field] = status
}

// FailValue makes writes of field with exactly value answer with status.
func (m *MockServiceNow) FailValue(field, value string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[field+"="+value] = status
}

func (m *MockServiceNow) handleTable(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		http.Error(w, `{"error":{"message":"invalid json"}}`, http.StatusBadRequest)
		return
	}

	call := ServiceNowCall{
		Method:        r.Method,
		Table:         r.PathValue("table"),
		SysID:         r.PathValue("sys_id"),
		Body:          body,
		Authorization: r.Header.Get("Authorization"),
		Status:        http.StatusOK,
		Timestamp:     time.Now(),
	}

	m.mu.Lock()
	for field, value := range body {
		if status, ok := m.failures[field]; ok {
			call.Status = status
		}
		if s, ok := value.(string); ok {
			if status, ok := m.failures[field+"="+s]; ok {
				call.Status = status
			}
		}
	}
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(call.Status)
	if call.Status >= 300 {
		io.WriteString(w, `{"error":{"message":"rejected by mock"}}`)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"result": body})
}

func (m *MockServiceNow) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequests++
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"access_token":"mock-token","token_type":"Bearer","expires_in":1800}`)
}

// GetCalls returns a copy of the recorded writes.
func (m *MockServiceNow) GetCalls() []ServiceNowCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceNowCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Values returns the values written to field, in order.
func (m *MockServiceNow) Values(field string) []string {
	var out []string
	for _, c := range m.GetCalls() {
		if v, ok := c.Body[field]; ok {
			s, _ := v.(string)
			out = append(out, s)
		}
	}
	return out
}

// States returns the state codes written, in order.
func (m *MockServiceNow) States() []string {
	return m.Values("state")
}

// Worknotes returns the work notes appended, in order.
func (m *MockServiceNow) Worknotes() []string {
	return m.Values("work_notes")
}

// Reassignments returns the assignment groups written, in order.
func (m *MockServiceNow) Reassignments() []string {
	return m.Values("assignment_group")
}

// Sequence renders the writes as "field=value" for order assertions.
func (m *MockServiceNow) Sequence() []string {
	var out []string
	for _, c := range m.GetCalls() {
		f := c.Field()
		v, _ := c.Body[f].(string)
		if f == "work_notes" {
			v = strings.SplitN(v, "\n", 2)[0]
		}
		out = append(out, f+"="+v)
	}
	return out
}

// TokenCount returns how many OAuth token requests were served.
func (m *MockServiceNow) TokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequests
}

// Reset clears recorded calls and failure rules.
func (m *MockServiceNow) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.TokenRequests = 0
	m.failures = make(map[string]int)
}
