package screen

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// AbuseType labels one axis of client misbehavior. Each (client, type) pair
// is scored independently.
type AbuseType string

const (
	AbuseConnectionFlood   AbuseType = "connection_flood"
	AbuseMessageSpam       AbuseType = "message_spam"
	AbuseRapidReconnect    AbuseType = "rapid_reconnect"
	AbuseMaliciousPayload  AbuseType = "malicious_payload"
	AbuseSuspiciousPattern AbuseType = "suspicious_pattern"
)

// AbusePattern is the accumulated signal for one (client, type) pair.
// Severity is monotonically non-decreasing until the pattern is reset.
type AbusePattern struct {
	ClientID  string    `json:"client_id"`
	Type      AbuseType `json:"type"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int64     `json:"count"`
	Severity  float64   `json:"severity"`
	Blocked   bool      `json:"blocked"`
}

type patternKey struct {
	clientID  string
	abuseType AbuseType
}

// recordAbuse updates the pattern for (clientID, abuseType) and reports
// whether this call crossed the block threshold. Crossing is edge-triggered:
// an already-blocked pattern keeps counting but never reports true again.
func (s *Screen) recordAbuse(clientID string, abuseType AbuseType) (AbusePattern, bool) {
	now := s.clock.Now()
	threshold := s.blockThreshold()
	increment := s.abuseIncrement(abuseType)

	var updated AbusePattern
	crossed := false
	key := patternKey{clientID: clientID, abuseType: abuseType}
	s.patterns.Compute(key, func(current AbusePattern, loaded bool) (AbusePattern, xsync.ComputeOp) {
		if !loaded {
			current = AbusePattern{
				ClientID:  clientID,
				Type:      abuseType,
				FirstSeen: now,
			}
		}
		current.LastSeen = now
		current.Count++
		current.Severity += increment
		if !current.Blocked && current.Severity >= threshold {
			current.Blocked = true
			crossed = true
		}
		updated = current
		return current, xsync.UpdateOp
	})
	return updated, crossed
}

// RecordAbuse registers one abuse signal for a client. If cumulative severity
// for the (client, type) pattern reaches the block threshold, the client is
// added to the block set exactly once.
func (s *Screen) RecordAbuse(clientID string, abuseType AbuseType) {
	pattern, crossed := s.recordAbuse(clientID, abuseType)

	s.emit(Event{
		Kind:      EventAbuseRecorded,
		ClientID:  clientID,
		AbuseType: abuseType,
		Severity:  pattern.Severity,
	})

	if !crossed {
		return
	}
	if _, already := s.blocked.LoadOrStore(clientID, s.clock.Now().UnixNano()); already {
		return // blocked on another axis first
	}
	s.emit(Event{
		Kind:      EventClientBlocked,
		ClientID:  clientID,
		AbuseType: abuseType,
		Severity:  pattern.Severity,
	})
}

// IsBlocked reports whether a client is in the block set.
func (s *Screen) IsBlocked(clientID string) bool {
	_, ok := s.blocked.Load(clientID)
	return ok
}

// Unblock removes a client from the block set and resets its abuse patterns,
// so future signals score from zero. Returns false if the client was not
// blocked.
func (s *Screen) Unblock(clientID string) bool {
	if _, ok := s.blocked.LoadAndDelete(clientID); !ok {
		return false
	}
	s.patterns.Range(func(key patternKey, _ AbusePattern) bool {
		if key.clientID == clientID {
			s.patterns.Delete(key)
		}
		return true
	})
	s.emit(Event{Kind: EventClientUnblocked, ClientID: clientID})
	return true
}

// BlockedClients returns the block set as (clientID, blockedAt unix-nano).
func (s *Screen) BlockedClients() map[string]int64 {
	out := make(map[string]int64)
	s.blocked.Range(func(clientID string, blockedAtNs int64) bool {
		out[clientID] = blockedAtNs
		return true
	})
	return out
}

// Patterns returns a snapshot of all abuse patterns, optionally filtered by
// client id ("" means all).
func (s *Screen) Patterns(clientID string) []AbusePattern {
	var out []AbusePattern
	s.patterns.Range(func(key patternKey, p AbusePattern) bool {
		if clientID == "" || key.clientID == clientID {
			out = append(out, p)
		}
		return true
	})
	return out
}
