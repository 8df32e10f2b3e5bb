// Package model defines domain structs shared across the persistence layer.
package model

// SecurityEvent is one auditable governance event (auth decision, rate-limit
// rejection, abuse record, block, escalation). Append-only once emitted.
type SecurityEvent struct {
	ID            string `json:"id"`
	TsNs          int64  `json:"ts_ns"`
	Kind          string `json:"kind"`
	Namespace     string `json:"namespace"`
	ClientID      string `json:"client_id"`
	SessionDigest string `json:"session_digest"`
	SourceAddr    string `json:"source_addr"`
	Country       string `json:"country"`
	UserID        int64  `json:"user_id"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail"`
}

// Security event kinds stored in the event log.
const (
	EventAuthSuccess   = "auth_success"
	EventAuthFailure   = "auth_failure"
	EventAdminGrant    = "admin_grant"
	EventAdminDeny     = "admin_deny"
	EventRateLimited   = "rate_limited"
	EventAbuseRecorded = "abuse_recorded"
	EventClientBlocked = "client_blocked"
	EventClientUnblocked = "client_unblocked"
	EventMessageRejected = "message_rejected"
	EventForcedDisconnect = "forced_disconnect"
	EventSessionInvalidated = "session_invalidated"
)
