package supervisor

import "encoding/json"

// ConnState is the lifecycle state of one connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateError
	StateRecovering
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

func (s ConnState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Meta is the client-supplied connection metadata kept for operators.
type Meta struct {
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// ConnectionRecord tracks one live connection. Records are stored by value
// in the registry; every mutation goes through an atomic Compute on the
// registry so per-client transitions are linearized.
type ConnectionRecord struct {
	ClientID         string    `json:"client_id"`
	SessionID        string    `json:"-"`
	ConnectedAtNs    int64     `json:"connected_at_ns"`
	LastActivityNs   int64     `json:"last_activity_ns"`
	State            ConnState `json:"state"`
	InstanceID       string    `json:"instance_id"`
	Messages         int64     `json:"messages"`
	Bytes            int64     `json:"bytes"`
	Errors           int64     `json:"errors"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	Meta             Meta      `json:"meta"`
}
