package gateway

import (
	"log"

	"github.com/gatewarden/gatewarden/internal/authgate"
	"github.com/gatewarden/gatewarden/internal/faults"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/screen"
	"github.com/gatewarden/gatewarden/internal/supervisor"
)

// onAuthEvent feeds gate decisions into metrics and the security log.
func (g *Gateway) onAuthEvent(event authgate.Event) {
	kind := ""
	switch event.Op {
	case "authenticate":
		g.metrics.RecordAuth(event.Namespace, event.Result == authgate.ResultSuccess)
		kind = model.EventAuthFailure
		if event.Result == authgate.ResultSuccess {
			kind = model.EventAuthSuccess
		}
	case "authorize_admin":
		kind = model.EventAdminDeny
		if event.Result == authgate.ResultSuccess {
			kind = model.EventAdminGrant
		}
	default:
		return
	}
	g.audit(model.SecurityEvent{
		Kind:          kind,
		Namespace:     event.Namespace,
		SessionDigest: event.SessionDigest,
		SourceAddr:    event.SourceAddr,
		Country:       g.country(event.SourceAddr),
		UserID:        event.UserID,
		Reason:        event.Result.String(),
		Detail:        event.Detail,
	})
}

// onScreenEvent feeds screen decisions into metrics and the security log.
// A block event also force-closes the client; the block itself stays in
// effect until an operator unblocks.
func (g *Gateway) onScreenEvent(event screen.Event) {
	switch event.Kind {
	case screen.EventRateLimited:
		g.metrics.RecordRateLimitHit()
		g.audit(model.SecurityEvent{
			Kind:     model.EventRateLimited,
			ClientID: event.ClientID,
			Detail:   event.Key,
		})
	case screen.EventAbuseRecorded:
		g.metrics.RecordAbuse()
		g.audit(model.SecurityEvent{
			Kind:     model.EventAbuseRecorded,
			ClientID: event.ClientID,
			Reason:   string(event.AbuseType),
		})
	case screen.EventClientBlocked:
		g.metrics.RecordBlock()
		g.audit(model.SecurityEvent{
			Kind:     model.EventClientBlocked,
			ClientID: event.ClientID,
			Reason:   string(event.AbuseType),
		})
		g.ForceDisconnect(event.ClientID, "abuse threshold exceeded")
	case screen.EventClientUnblocked:
		g.audit(model.SecurityEvent{
			Kind:     model.EventClientUnblocked,
			ClientID: event.ClientID,
		})
	}
}

// onSupervisorEvent feeds lifecycle events into metrics. Instance health
// transitions are operator-facing and go to the process log.
func (g *Gateway) onSupervisorEvent(event supervisor.Event) {
	switch event.Kind {
	case supervisor.EventEvicted:
		g.metrics.RecordEviction()
		g.metrics.RecordConnection(-1)
		g.contexts.Delete(event.ClientID)
		// The record is gone; close the socket too or the client lingers
		// unplaced and unaccounted.
		if g.closer != nil {
			g.closer.CloseClient(event.ClientID, string(event.Kind))
		}
	case supervisor.EventMigrated:
		g.metrics.RecordMigration()
	case supervisor.EventRecovered:
		g.metrics.RecordRecovery()
	case supervisor.EventRecoveryExhausted, supervisor.EventOrphanDropped:
		g.metrics.RecordConnection(-1)
		g.contexts.Delete(event.ClientID)
		if g.closer != nil {
			g.closer.CloseClient(event.ClientID, string(event.Kind))
		}
	case supervisor.EventInstanceUnhealthy, supervisor.EventInstanceRecovered,
		supervisor.EventInstanceOverloaded:
		log.Printf("[supervisor] instance %s: %s %s", event.InstanceID, event.Kind, event.Detail)
	}
}

// onFaultEvent feeds classified failures into the severity counters.
func (g *Gateway) onFaultEvent(event faults.ErrorEvent) {
	g.metrics.RecordError(int(faults.SeverityOf(event.Kind)))
}

func (g *Gateway) auditMessageRejected(clientID, reason string) {
	g.audit(model.SecurityEvent{
		Kind:     model.EventMessageRejected,
		ClientID: clientID,
		Reason:   reason,
	})
}

// audit hands an event to the security log, if one is configured.
func (g *Gateway) audit(event model.SecurityEvent) {
	if g.seclog == nil {
		return
	}
	g.seclog.Emit(event)
}

// country annotates a source address with its GeoIP country code.
func (g *Gateway) country(addr string) string {
	if g.geo == nil || addr == "" {
		return ""
	}
	return g.geo.Lookup(addr)
}
