// Package metrics implements the lock-free governance counters backing the
// read-only stats surface.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector holds hot-path atomic counters for global and per-namespace metrics.
// All fields are updated with atomic operations for lock-free performance.
type Collector struct {
	global    *counters
	namespace sync.Map // string -> *counters
}

// counters holds atomic counters for one measurement scope (global or per-namespace).
type counters struct {
	authSuccess      atomic.Int64
	authFailure      atomic.Int64
	rateLimitHits    atomic.Int64
	abuseRecords     atomic.Int64
	clientsBlocked   atomic.Int64
	messagesAccepted atomic.Int64
	messagesRejected atomic.Int64

	activeConnections atomic.Int64
	registrations     atomic.Int64
	evictions         atomic.Int64
	migrations        atomic.Int64
	recoveries        atomic.Int64
	forcedCloses      atomic.Int64

	// Errors by severity: low, medium, high, critical.
	errorsBySeverity [4]atomic.Int64
}

// CountersSnapshot is a point-in-time snapshot of counters for reading.
type CountersSnapshot struct {
	AuthSuccess      int64 `json:"auth_success"`
	AuthFailure      int64 `json:"auth_failure"`
	RateLimitHits    int64 `json:"rate_limit_hits"`
	AbuseRecords     int64 `json:"abuse_records"`
	ClientsBlocked   int64 `json:"clients_blocked"`
	MessagesAccepted int64 `json:"messages_accepted"`
	MessagesRejected int64 `json:"messages_rejected"`

	ActiveConnections int64 `json:"active_connections"`
	Registrations     int64 `json:"registrations"`
	Evictions         int64 `json:"evictions"`
	Migrations        int64 `json:"migrations"`
	Recoveries        int64 `json:"recoveries"`
	ForcedCloses      int64 `json:"forced_closes"`

	ErrorsBySeverity [4]int64 `json:"errors_by_severity"`
}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	return &Collector{global: &counters{}}
}

func (c *Collector) getOrCreateNamespace(namespace string) *counters {
	if namespace == "" {
		return nil
	}
	if v, ok := c.namespace.Load(namespace); ok {
		return v.(*counters)
	}
	actual, _ := c.namespace.LoadOrStore(namespace, &counters{})
	return actual.(*counters)
}

// RecordAuth records an authentication attempt outcome for a namespace.
func (c *Collector) RecordAuth(namespace string, success bool) {
	record := func(ct *counters) {
		if success {
			ct.authSuccess.Add(1)
		} else {
			ct.authFailure.Add(1)
		}
	}
	record(c.global)
	if nc := c.getOrCreateNamespace(namespace); nc != nil {
		record(nc)
	}
}

// RecordRateLimitHit records a rejected rate-limit check.
func (c *Collector) RecordRateLimitHit() {
	c.global.rateLimitHits.Add(1)
}

// RecordAbuse records one abuse signal.
func (c *Collector) RecordAbuse() {
	c.global.abuseRecords.Add(1)
}

// RecordBlock records a client crossing the block threshold.
func (c *Collector) RecordBlock() {
	c.global.clientsBlocked.Add(1)
}

// RecordMessage records a message validation outcome.
func (c *Collector) RecordMessage(accepted bool) {
	if accepted {
		c.global.messagesAccepted.Add(1)
	} else {
		c.global.messagesRejected.Add(1)
	}
}

// RecordConnection adjusts the active connection gauge; delta is +1 on
// registration and -1 on unregistration.
func (c *Collector) RecordConnection(delta int64) {
	c.global.activeConnections.Add(delta)
	if delta > 0 {
		c.global.registrations.Add(delta)
	}
}

// RecordEviction records an idle-timeout eviction.
func (c *Collector) RecordEviction() {
	c.global.evictions.Add(1)
}

// RecordMigration records a connection moved between instances.
func (c *Collector) RecordMigration() {
	c.global.migrations.Add(1)
}

// RecordRecovery records a successful recovery of an errored connection.
func (c *Collector) RecordRecovery() {
	c.global.recoveries.Add(1)
}

// RecordForcedClose records a connection terminated by escalation.
func (c *Collector) RecordForcedClose() {
	c.global.forcedCloses.Add(1)
}

// RecordError records a classified error by severity index (0=low .. 3=critical).
func (c *Collector) RecordError(severity int) {
	if severity < 0 || severity >= len(c.global.errorsBySeverity) {
		return
	}
	c.global.errorsBySeverity[severity].Add(1)
}

// Snapshot returns a point-in-time snapshot of the global counters.
func (c *Collector) Snapshot() CountersSnapshot {
	return snapshot(c.global)
}

// NamespaceSnapshots returns snapshots for all known namespaces.
func (c *Collector) NamespaceSnapshots() map[string]CountersSnapshot {
	result := make(map[string]CountersSnapshot)
	c.namespace.Range(func(key, value any) bool {
		result[key.(string)] = snapshot(value.(*counters))
		return true
	})
	return result
}

func snapshot(ct *counters) CountersSnapshot {
	s := CountersSnapshot{
		AuthSuccess:      ct.authSuccess.Load(),
		AuthFailure:      ct.authFailure.Load(),
		RateLimitHits:    ct.rateLimitHits.Load(),
		AbuseRecords:     ct.abuseRecords.Load(),
		ClientsBlocked:   ct.clientsBlocked.Load(),
		MessagesAccepted: ct.messagesAccepted.Load(),
		MessagesRejected: ct.messagesRejected.Load(),

		ActiveConnections: ct.activeConnections.Load(),
		Registrations:     ct.registrations.Load(),
		Evictions:         ct.evictions.Load(),
		Migrations:        ct.migrations.Load(),
		Recoveries:        ct.recoveries.Load(),
		ForcedCloses:      ct.forcedCloses.Load(),
	}
	for i := range ct.errorsBySeverity {
		s.ErrorsBySeverity[i] = ct.errorsBySeverity[i].Load()
	}
	return s
}
