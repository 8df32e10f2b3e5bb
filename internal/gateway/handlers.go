package gateway

import (
	"github.com/gatewarden/gatewarden/internal/authgate"
	"github.com/gatewarden/gatewarden/internal/faults"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/screen"
	"github.com/gatewarden/gatewarden/internal/supervisor"
)

// OnConnect governs one connection attempt: authenticate, screen the
// connection rate, then register with the supervisor. The returned reason is
// for logs and operator surfaces only; security-class rejections must not be
// forwarded to the client verbatim.
func (g *Gateway) OnConnect(clientID string, attempt authgate.Attempt, namespace string) (bool, string) {
	result, authCtx := g.gate.Authenticate(attempt, namespace)
	if result != authgate.ResultSuccess {
		if result == authgate.ResultRateLimited {
			g.screen.RecordAbuse(clientID, screen.AbuseRapidReconnect)
		}
		return false, result.String()
	}

	if !g.screen.CheckConnectionRate(clientID) {
		g.screen.RecordAbuse(clientID, screen.AbuseConnectionFlood)
		return false, "connection rate exceeded"
	}

	meta := supervisor.Meta{RemoteAddr: attempt.RemoteAddr, UserAgent: attempt.UserAgent}
	if !g.supervisor.Register(clientID, authCtx.SessionID, meta) {
		return false, "no instance available"
	}
	g.supervisor.SetState(clientID, supervisor.StateConnected)
	g.contexts.Store(clientID, authCtx)
	g.metrics.RecordConnection(1)
	return true, ""
}

// OnMessage screens one inbound message. size is the raw frame length as
// seen by the transport, counted toward the connection's byte total.
func (g *Gateway) OnMessage(clientID string, message map[string]any, size int64) (bool, string) {
	if !g.screen.CheckMessageRate(clientID) {
		g.screen.RecordAbuse(clientID, screen.AbuseMessageSpam)
		g.metrics.RecordMessage(false)
		g.auditMessageRejected(clientID, screen.ReasonRateLimited)

		rec, _ := g.supervisor.Get(clientID)
		g.supervisor.RecordError(clientID)
		g.classifier.Handle(faults.KindRateLimit, screen.ReasonRateLimited, clientID, rec.SessionID, nil)
		return false, screen.ReasonRateLimited
	}

	ok, reason := g.screen.ValidateMessage(clientID, message)
	if !ok {
		g.metrics.RecordMessage(false)
		g.auditMessageRejected(clientID, reason)

		rec, _ := g.supervisor.Get(clientID)
		g.supervisor.RecordError(clientID)
		g.classifier.Handle(faultKindForReason(reason), reason, clientID, rec.SessionID, nil)
		return false, reason
	}

	g.supervisor.Touch(clientID, size)
	g.metrics.RecordMessage(true)
	return true, ""
}

// OnDisconnect releases everything bound to a departing client. Idempotent.
func (g *Gateway) OnDisconnect(clientID string) {
	if g.supervisor.Unregister(clientID) {
		g.metrics.RecordConnection(-1)
	}
	g.classifier.Forget(clientID)
	g.contexts.Delete(clientID)
}

// ReportFault classifies a transport-observed failure for a connected client
// and reports whether the connection survives.
func (g *Gateway) ReportFault(kind faults.Kind, message, clientID string) bool {
	rec, _ := g.supervisor.Get(clientID)
	g.supervisor.RecordError(clientID)
	if kind == faults.KindConnection {
		g.supervisor.SetState(clientID, supervisor.StateError)
	}
	return g.classifier.Handle(kind, message, clientID, rec.SessionID, nil)
}

// ForceDisconnect notifies and closes one client, then releases its state.
func (g *Gateway) ForceDisconnect(clientID, reason string) {
	g.notifyClient(clientID, faults.Notice{Kind: faults.KindConnection, Recoverable: false, Message: "disconnected"})
	if g.closer != nil {
		g.closer.CloseClient(clientID, reason)
	}
	rec, _ := g.supervisor.Get(clientID)
	g.OnDisconnect(clientID)
	g.metrics.RecordForcedClose()
	g.audit(model.SecurityEvent{
		Kind:          model.EventForcedDisconnect,
		ClientID:      clientID,
		SessionDigest: authgate.ObscureSessionID(rec.SessionID),
		Reason:        reason,
	})
}

// Stats is the read-only snapshot served to the admin dashboard.
type Stats struct {
	Supervisor supervisor.Stats         `json:"supervisor"`
	Screen     screen.Stats             `json:"screen"`
	Faults     faults.Stats             `json:"faults"`
	Counters   metrics.CountersSnapshot `json:"counters"`
}

// Stats aggregates the component snapshots.
func (g *Gateway) Stats() Stats {
	return Stats{
		Supervisor: g.supervisor.Snapshot(),
		Screen:     g.screen.Snapshot(),
		Faults:     g.classifier.Snapshot(),
		Counters:   g.metrics.Snapshot(),
	}
}

func (g *Gateway) notifyClient(clientID string, notice faults.Notice) {
	if g.emitter == nil || clientID == "" {
		return
	}
	g.emitter.Emit("error", map[string]any{
		"kind":        string(notice.Kind),
		"recoverable": notice.Recoverable,
		"message":     notice.Message,
	}, clientID)
}

func (g *Gateway) invalidateSession(sessionID string) {
	g.gate.InvalidateSession(sessionID)
	g.audit(model.SecurityEvent{
		Kind:          model.EventSessionInvalidated,
		SessionDigest: authgate.ObscureSessionID(sessionID),
		Reason:        "session error threshold exceeded",
	})
}

func faultKindForReason(reason string) faults.Kind {
	switch reason {
	case screen.ReasonRateLimited:
		return faults.KindRateLimit
	case screen.ReasonMaliciousContent, screen.ReasonBlocked:
		return faults.KindSecurity
	default:
		return faults.KindValidation
	}
}
