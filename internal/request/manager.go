// Package request tracks in-flight JSON-RPC requests so that cancellation
// notifications can reach running tool calls. The manager owns lifecycle
// metadata and the cancel signal only; execution stays with the tool runner.
package request

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle phase of a tracked request.
type State string

const (
	StateReceived  State = "received"
	StateVerifying State = "verifying"
	StateExecuting State = "executing"
	StateSettling  State = "settling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// retention is how long completed requests stay in the table so that late
// cancellation notifications resolve silently instead of logging noise.
const retention = 5 * time.Second

// Request is one tracked JSON-RPC request. Cancel is one-shot and
// observable from any goroutine.
type Request struct {
	Key    string
	ID     string
	Method string

	mu        sync.Mutex
	state     State
	cancelled bool
	reason    string
	startedAt time.Time
	endedAt   time.Time
}

// Cancel flips the one-shot cancel signal. Idempotent.
func (r *Request) Cancel(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.reason = reason
}

// Cancelled reports whether cancellation was requested.
func (r *Request) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// CancelReason returns the reason supplied with the cancellation, if any.
func (r *Request) CancelReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// SetState records a lifecycle transition.
func (r *Request) SetState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	if s == StateCompleted || s == StateFailed || s == StateCancelled {
		r.endedAt = time.Now()
	}
}

// State returns the current lifecycle phase.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Duration returns the elapsed time since registration, frozen at the
// terminal transition once one happened.
func (r *Request) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.endedAt.IsZero() {
		return r.endedAt.Sub(r.startedAt)
	}
	return time.Since(r.startedAt)
}

// Manager is the concurrent table of in-flight requests. Requests are keyed
// by a connection-scoped key ("<session>/<id>") because JSON-RPC ids are
// unique only within a connection.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*Request
	logger   *zap.Logger

	// retention is variable for tests.
	retention time.Duration
}

// NewManager returns an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		requests:  make(map[string]*Request),
		logger:    logger,
		retention: retention,
	}
}

// Key builds the connection-scoped request key.
func Key(session, id string) string {
	if session == "" {
		return id
	}
	return session + "/" + id
}

// Register creates and tracks a request in state received.
func (m *Manager) Register(key, id, method string) *Request {
	r := &Request{Key: key, ID: id, Method: method, state: StateReceived, startedAt: time.Now()}
	m.mu.Lock()
	m.requests[key] = r
	m.mu.Unlock()
	m.logger.Debug("registered request", zap.String("key", key), zap.String("method", method))
	return r
}

// Cancel flips the cancel signal of a tracked request. Unknown keys are
// dropped silently, per MCP convention. Returns whether a request was found.
func (m *Manager) Cancel(key, reason string) bool {
	m.mu.Lock()
	r, ok := m.requests[key]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("cancellation for unknown request", zap.String("key", key))
		return false
	}
	r.Cancel(reason)
	return true
}

// Complete transitions a request to its terminal state and schedules
// eviction after the retention window.
func (m *Manager) Complete(key string, terminal State) {
	m.mu.Lock()
	r, ok := m.requests[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.SetState(terminal)
	time.AfterFunc(m.retention, func() { m.evict(key) })
}

func (m *Manager) evict(key string) {
	m.mu.Lock()
	delete(m.requests, key)
	m.mu.Unlock()
}

// Get returns the tracked request for key.
func (m *Manager) Get(key string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[key]
	return r, ok
}

// Len returns the number of tracked requests, including completed ones still
// inside the retention window.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// SetRetention overrides the completed-request retention window.
func (m *Manager) SetRetention(d time.Duration) { m.retention = d }
