// Package faults classifies runtime failures by kind and severity, keeps a
// bounded history with per-client and per-session escalation counters, and
// drives the force-disconnect / session-invalidation escalation path.
package faults

// Kind is the failure taxonomy shared across the gateway.
type Kind string

const (
	KindConnection     Kind = "connection"
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindRateLimit      Kind = "rate_limit"
	KindInternal       Kind = "internal"
	KindTimeout        Kind = "timeout"
	KindProtocol       Kind = "protocol"
	KindSecurity       Kind = "security"
)

// Severity orders failure impact. Low is the zero value so unknown kinds
// degrade gracefully.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// severityTable is the static kind-to-severity mapping.
var severityTable = map[Kind]Severity{
	KindSecurity:       SeverityCritical,
	KindInternal:       SeverityCritical,
	KindAuthentication: SeverityHigh,
	KindProtocol:       SeverityHigh,
	KindConnection:     SeverityMedium,
	KindTimeout:        SeverityMedium,
	KindValidation:     SeverityLow,
	KindRateLimit:      SeverityLow,
}

// SeverityOf maps a kind to its severity; unknown kinds are low.
func SeverityOf(kind Kind) Severity {
	return severityTable[kind]
}

// response is one entry of the dispatch table: whether the connection
// survives the failure, and the fixed client-facing message. Messages never
// carry internal detail.
type response struct {
	recoverable bool
	public      string
}

// newDispatchTable builds the kind-keyed response table once at startup.
func newDispatchTable() map[Kind]response {
	return map[Kind]response{
		KindConnection:     {recoverable: true, public: "connection issue, please retry"},
		KindValidation:     {recoverable: true, public: "message rejected"},
		KindRateLimit:      {recoverable: true, public: "rate limit exceeded, slow down"},
		KindTimeout:        {recoverable: true, public: "operation timed out, please retry"},
		KindAuthentication: {recoverable: false, public: "authentication failed"},
		KindProtocol:       {recoverable: false, public: "protocol violation"},
		KindSecurity:       {recoverable: false, public: "connection closed"},
		KindInternal:       {recoverable: true, public: "temporary server issue"},
	}
}
