// Package retry tracks the re-authentication budget of backend calls.
//
// Every call a client makes opens a CallState with Begin. When the backend
// answers 401 the caller asks ShouldRetry, records the attempt and tries
// once more; when the budget is spent it surfaces the error instead of
// looping. Finish folds the call into per-backend totals that the pool
// reports alongside health.
package retry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is the number of re-authentications allowed per call.
const DefaultMaxRetries = 1

// CallState tracks retry attempts for one in-flight call.
type CallState struct {
	CallID     string    `json:"call_id"`
	Backend    string    `json:"backend"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	LastError  string    `json:"last_error,omitempty"`
	Succeeded  bool      `json:"succeeded,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// BackendTotals aggregates finished calls for one backend.
type BackendTotals struct {
	Backend   string `json:"backend"`
	Calls     int    `json:"calls"`
	Retries   int    `json:"retries"`
	Exhausted int    `json:"exhausted"` // calls that ran out of retries
	LastError string `json:"last_error,omitempty"`
}

// Manager manages retry state for calls.
// It is thread-safe and can be used concurrently.
type Manager struct {
	mu         sync.RWMutex
	maxRetries int
	calls      map[string]*CallState
	totals     map[string]*BackendTotals
}

// NewManager creates a new retry manager with the given per-call budget.
// A negative budget is treated as zero.
func NewManager(maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		maxRetries: maxRetries,
		calls:      make(map[string]*CallState),
		totals:     make(map[string]*BackendTotals),
	}
}

// Begin opens retry state for a new call against backend and returns its ID.
func (m *Manager) Begin(backend string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := backend + "/" + uuid.NewString()
	m.calls[id] = &CallState{
		CallID:     id,
		Backend:    backend,
		MaxRetries: m.maxRetries,
		StartedAt:  time.Now(),
	}
	return id
}

// GetState returns a copy of the state for a call, or nil if not found.
func (m *Manager) GetState(callID string) *CallState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.calls[callID]
	if !ok {
		return nil
	}
	stateCopy := *state
	return &stateCopy
}

// ShouldRetry returns whether a call may be retried.
func (m *Manager) ShouldRetry(callID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.calls[callID]
	if !exists {
		return false
	}
	return state.RetryCount < state.MaxRetries && !state.Succeeded
}

// RecordAttempt records an attempt for a call.
// Success marks the call as succeeded; failure consumes one retry.
func (m *Manager) RecordAttempt(callID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.calls[callID]
	if !exists {
		return
	}

	if success {
		state.Succeeded = true
	} else {
		state.RetryCount++
	}
}

// SetLastError sets the last error message for a call.
func (m *Manager) SetLastError(callID string, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.calls[callID]
	if !exists {
		return
	}
	state.LastError = errMsg
}

// Attempts returns the number of retries a call has used.
func (m *Manager) Attempts(callID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.calls[callID]; ok {
		return state.RetryCount
	}
	return 0
}

// Finish closes a call and folds it into the backend totals.
func (m *Manager) Finish(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.calls[callID]
	if !exists {
		return
	}
	delete(m.calls, callID)

	totals, ok := m.totals[state.Backend]
	if !ok {
		totals = &BackendTotals{Backend: state.Backend}
		m.totals[state.Backend] = totals
	}
	totals.Calls++
	totals.Retries += state.RetryCount
	if !state.Succeeded && state.RetryCount >= state.MaxRetries && state.LastError != "" {
		totals.Exhausted++
	}
	if state.LastError != "" {
		totals.LastError = state.LastError
	}
}

// InFlight returns the IDs of calls that have begun but not finished, sorted.
func (m *Manager) InFlight() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Totals returns a copy of the totals for a backend.
func (m *Manager) Totals(backend string) BackendTotals {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := m.totals[backend]; ok {
		return *t
	}
	return BackendTotals{Backend: backend}
}

// GetAllTotals returns a copy of all backend totals.
func (m *Manager) GetAllTotals() map[string]BackendTotals {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]BackendTotals, len(m.totals))
	for k, v := range m.totals {
		result[k] = *v
	}
	return result
}

// ResetAll clears all call and totals state.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = make(map[string]*CallState)
	m.totals = make(map[string]*BackendTotals)
}
