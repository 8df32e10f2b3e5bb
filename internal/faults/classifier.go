package faults

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/gatewarden/gatewarden/internal/authgate"
)

// ErrorEvent is one classified failure kept in the bounded history.
// The raw session id is kept for escalation but never serialized; operator
// surfaces see only the digest.
type ErrorEvent struct {
	ID            string         `json:"id"`
	TsNs          int64          `json:"ts_ns"`
	Kind          Kind           `json:"kind"`
	Severity      string         `json:"severity"`
	Message       string         `json:"message"`
	ClientID      string         `json:"client_id,omitempty"`
	SessionID     string         `json:"-"`
	SessionDigest string         `json:"session_digest,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
}

// Notice is the fixed, non-leaking payload delivered to a client after a
// failure. Recoverable notices leave the connection open.
type Notice struct {
	Kind        Kind   `json:"kind"`
	Recoverable bool   `json:"recoverable"`
	Message     string `json:"message"`
}

// Config wires the classifier to its collaborators. Threshold fields are
// closures so hot config swaps apply to the next failure.
type Config struct {
	Clock clock.Clock // nil means wall clock

	// HistorySize bounds the event ring buffer; 0 uses the default.
	HistorySize int

	TrackWindow                func() time.Duration
	ClientDisconnectThreshold  func() int
	SessionInvalidateThreshold func() int

	// Notify delivers a notice to one client. Nil disables notification.
	Notify func(clientID string, notice Notice)
	// CloseClient force-disconnects one client with an operator-visible
	// reason. Nil disables forced closes.
	CloseClient func(clientID, reason string)
	// InvalidateSession tells collaborators to treat the session as dead.
	InvalidateSession func(sessionID string)
	// OnEvent observes every classified failure.
	OnEvent func(ErrorEvent)
}

const (
	defaultHistorySize     = 1000
	defaultTrackWindow     = time.Hour
	defaultClientThreshold = 3
	// Session threshold is intentionally above the client one: a session can
	// span reconnects, so it gets more slack before invalidation.
	defaultSessionThreshold = 5
)

// Classifier records, classifies, and escalates failures.
type Classifier struct {
	clock    clock.Clock
	dispatch map[Kind]response

	mu         sync.Mutex
	history    []ErrorEvent // ring buffer
	head       int
	total      int64
	byKind     map[Kind]int64
	bySeverity map[Severity]int64

	clientErrors  *xsync.Map[string, []int64]
	sessionErrors *xsync.Map[string, []int64]

	trackWindow      func() time.Duration
	clientThreshold  func() int
	sessionThreshold func() int

	notify            func(clientID string, notice Notice)
	closeClient       func(clientID, reason string)
	invalidateSession func(sessionID string)
	onEvent           func(ErrorEvent)
}

// NewClassifier creates a Classifier from cfg.
func NewClassifier(cfg Config) *Classifier {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	return &Classifier{
		clock:             clk,
		dispatch:          newDispatchTable(),
		history:           make([]ErrorEvent, 0, size),
		byKind:            make(map[Kind]int64),
		bySeverity:        make(map[Severity]int64),
		clientErrors:      xsync.NewMap[string, []int64](),
		sessionErrors:     xsync.NewMap[string, []int64](),
		trackWindow:       cfg.TrackWindow,
		clientThreshold:   cfg.ClientDisconnectThreshold,
		sessionThreshold:  cfg.SessionInvalidateThreshold,
		notify:            cfg.Notify,
		closeClient:       cfg.CloseClient,
		invalidateSession: cfg.InvalidateSession,
		onEvent:           cfg.OnEvent,
	}
}

// Handle classifies one failure, records it, notifies the client, and runs
// the escalation checks. It reports whether the connection survives: false
// means the client was (or is being) force-closed.
func (c *Classifier) Handle(kind Kind, message, clientID, sessionID string, detail map[string]any) bool {
	now := c.clock.Now()
	severity := SeverityOf(kind)

	event := ErrorEvent{
		ID:            uuid.NewString(),
		TsNs:          now.UnixNano(),
		Kind:          kind,
		Severity:      severity.String(),
		Message:       message,
		ClientID:      clientID,
		SessionID:     sessionID,
		SessionDigest: authgate.ObscureSessionID(sessionID),
		Detail:        detail,
	}
	c.record(event, severity)

	clientCount := 0
	if clientID != "" {
		clientCount = c.bump(c.clientErrors, clientID, now)
	}
	sessionCount := 0
	if sessionID != "" {
		sessionCount = c.bump(c.sessionErrors, sessionID, now)
	}

	resp, ok := c.dispatch[kind]
	if !ok {
		resp = response{recoverable: true, public: "request failed"}
	}

	if c.notify != nil && clientID != "" {
		c.notify(clientID, Notice{Kind: kind, Recoverable: resp.recoverable, Message: resp.public})
	}

	survives := resp.recoverable
	if !resp.recoverable && clientID != "" {
		c.forceClose(clientID, "fatal "+string(kind)+" error")
	}

	// Escalation runs regardless of the error's own fatality.
	if clientID != "" && clientCount >= c.clientLimit() {
		c.forceClose(clientID, "error threshold exceeded")
		survives = false
	}
	if sessionID != "" && sessionCount >= c.sessionLimit() {
		c.sessionErrors.Delete(sessionID)
		if c.invalidateSession != nil {
			c.invalidateSession(sessionID)
		}
	}

	if c.onEvent != nil {
		c.onEvent(event)
	}
	return survives
}

// ClientErrorCount returns the client's error count inside the tracked window.
func (c *Classifier) ClientErrorCount(clientID string) int {
	return c.countWithin(c.clientErrors, clientID)
}

// SessionErrorCount returns the session's error count inside the tracked window.
func (c *Classifier) SessionErrorCount(sessionID string) int {
	return c.countWithin(c.sessionErrors, sessionID)
}

// Forget drops a client's error history, typically on disconnect.
func (c *Classifier) Forget(clientID string) {
	c.clientErrors.Delete(clientID)
}

// Stats is the classifier portion of the governance stats snapshot.
type Stats struct {
	Total      int64            `json:"total"`
	ByKind     map[string]int64 `json:"by_kind"`
	BySeverity map[string]int64 `json:"by_severity"`
	History    int              `json:"history"`
}

// Snapshot returns a point-in-time Stats.
func (c *Classifier) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Total:      c.total,
		ByKind:     make(map[string]int64, len(c.byKind)),
		BySeverity: make(map[string]int64, len(c.bySeverity)),
		History:    len(c.history),
	}
	for kind, n := range c.byKind {
		st.ByKind[string(kind)] = n
	}
	for severity, n := range c.bySeverity {
		st.BySeverity[severity.String()] = n
	}
	return st
}

// Recent returns up to limit most recent events, newest first.
func (c *Classifier) Recent(limit int) []ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ErrorEvent, 0, limit)
	for i := 0; i < limit; i++ {
		// head points at the oldest slot once the ring is full.
		idx := (c.head - 1 - i + n + n) % n
		out = append(out, c.history[idx])
	}
	return out
}

// --- internals ---

func (c *Classifier) record(event ErrorEvent, severity Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) < cap(c.history) {
		c.history = append(c.history, event)
		c.head = len(c.history) % cap(c.history)
	} else {
		c.history[c.head] = event
		c.head = (c.head + 1) % len(c.history)
	}
	c.total++
	c.byKind[event.Kind]++
	c.bySeverity[severity]++
}

// bump appends now to the key's timestamp list, prunes entries outside the
// tracked window, and returns the remaining count. The Compute callback
// linearizes concurrent bumps for the same key.
func (c *Classifier) bump(m *xsync.Map[string, []int64], key string, now time.Time) int {
	cutoff := now.Add(-c.window()).UnixNano()
	count := 0
	m.Compute(key, func(stamps []int64, _ bool) ([]int64, xsync.ComputeOp) {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts >= cutoff {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, now.UnixNano())
		count = len(kept)
		return kept, xsync.UpdateOp
	})
	return count
}

func (c *Classifier) countWithin(m *xsync.Map[string, []int64], key string) int {
	stamps, ok := m.Load(key)
	if !ok {
		return 0
	}
	cutoff := c.clock.Now().Add(-c.window()).UnixNano()
	count := 0
	for _, ts := range stamps {
		if ts >= cutoff {
			count++
		}
	}
	return count
}

func (c *Classifier) forceClose(clientID, reason string) {
	if c.closeClient != nil {
		c.closeClient(clientID, reason)
	}
}

func (c *Classifier) window() time.Duration {
	if c.trackWindow != nil {
		if w := c.trackWindow(); w > 0 {
			return w
		}
	}
	return defaultTrackWindow
}

func (c *Classifier) clientLimit() int {
	if c.clientThreshold != nil {
		if n := c.clientThreshold(); n > 0 {
			return n
		}
	}
	return defaultClientThreshold
}

func (c *Classifier) sessionLimit() int {
	if c.sessionThreshold != nil {
		if n := c.sessionThreshold(); n > 0 {
			return n
		}
	}
	return defaultSessionThreshold
}
