package supervisor

import (
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// RunMaintenance performs one maintenance pass: drain the recovery queue,
// probe instance health, evict idle connections, and reconcile connections
// whose instance is gone. The background loop calls this on its cadence;
// it is exported so callers can force a pass.
func (s *Supervisor) RunMaintenance() {
	s.drainRecovery()
	s.checkInstanceHealth()
	s.evictIdle()
	s.reconcileOrphans()
}

// drainRecovery processes the recovery queue entries present at the start of
// the pass. Failed attempts below the cap re-enter the queue; at the cap the
// connection is unregistered.
func (s *Supervisor) drainRecovery() {
	maxAttempts := 3
	if s.recoveryMaxAttempts != nil {
		maxAttempts = s.recoveryMaxAttempts()
	}

	for n := len(s.recovery); n > 0; n-- {
		var clientID string
		select {
		case clientID = <-s.recovery:
		default:
			return
		}

		rec, ok := s.conns.Load(clientID)
		if !ok {
			continue
		}

		s.setStateQuiet(clientID, StateRecovering)
		if s.tryRecover(rec) {
			s.SetState(clientID, StateConnected)
			s.emit(Event{Kind: EventRecovered, ClientID: clientID, InstanceID: rec.InstanceID})
			continue
		}

		attempts := s.bumpRecoveryAttempts(clientID)
		if attempts >= maxAttempts {
			s.drop(clientID, EventRecoveryExhausted, fmt.Sprintf("%d attempts", attempts))
			continue
		}
		s.enqueueRecovery(clientID)
	}
}

func (s *Supervisor) tryRecover(rec ConnectionRecord) bool {
	if s.recoverFn != nil {
		return s.recoverFn(rec)
	}
	inst, ok := s.instances.Load(rec.InstanceID)
	return ok && inst.Healthy()
}

// setStateQuiet is SetState without the Error-state recovery enqueue, used
// inside the drain loop to avoid requeue feedback.
func (s *Supervisor) setStateQuiet(clientID string, state ConnState) {
	nowNs := s.clock.Now().UnixNano()
	s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
		if !loaded {
			return current, xsync.CancelOp
		}
		current.State = state
		current.LastActivityNs = nowNs
		return current, xsync.UpdateOp
	})
}

func (s *Supervisor) bumpRecoveryAttempts(clientID string) int {
	nowNs := s.clock.Now().UnixNano()
	attempts := 0
	s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
		if !loaded {
			return current, xsync.CancelOp
		}
		current.RecoveryAttempts++
		current.State = StateError
		current.LastActivityNs = nowNs
		attempts = current.RecoveryAttempts
		return current, xsync.UpdateOp
	})
	return attempts
}

// checkInstanceHealth probes every instance, emits health transitions, drains
// connections off instances that turned unhealthy, and flags overloaded ones.
func (s *Supervisor) checkInstanceHealth() {
	overload := 0.9
	if s.overloadThreshold != nil {
		overload = s.overloadThreshold()
	}
	nowNs := s.clock.Now().UnixNano()

	s.instances.Range(func(id string, inst *ServerInstance) bool {
		healthy := true
		if s.healthCheck != nil {
			healthy = s.healthCheck(inst)
		}
		inst.lastHealthCheckNs.Store(nowNs)
		was := inst.healthy.Swap(healthy)

		switch {
		case was && !healthy:
			s.emit(Event{Kind: EventInstanceUnhealthy, InstanceID: id})
			s.migrateOff(inst)
		case !was && healthy:
			s.emit(Event{Kind: EventInstanceRecovered, InstanceID: id})
		}

		if healthy && inst.Utilization() >= overload {
			s.emit(Event{Kind: EventInstanceOverloaded, InstanceID: id,
				Detail: fmt.Sprintf("utilization %.2f", inst.Utilization())})
		}
		return true
	})
}

// evictIdle unregisters connections with no activity inside the idle window.
func (s *Supervisor) evictIdle() {
	idle := 300 * time.Second
	if s.idleTimeout != nil {
		idle = s.idleTimeout()
	}
	if idle <= 0 {
		return
	}
	cutoffNs := s.clock.Now().Add(-idle).UnixNano()

	s.conns.Range(func(clientID string, rec ConnectionRecord) bool {
		if rec.LastActivityNs < cutoffNs {
			s.drop(clientID, EventEvicted, "idle timeout")
		}
		return true
	})
}

// reconcileOrphans re-places connections whose instance no longer exists.
// Connections that cannot be placed anywhere are unregistered.
func (s *Supervisor) reconcileOrphans() {
	s.conns.Range(func(clientID string, rec ConnectionRecord) bool {
		if _, ok := s.instances.Load(rec.InstanceID); ok {
			return true
		}

		target := s.place(nil)
		if target == nil {
			s.drop(clientID, EventOrphanDropped, "no instance available")
			return true
		}

		moved := false
		oldID := rec.InstanceID
		s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
			if !loaded || current.InstanceID != oldID {
				return current, xsync.CancelOp
			}
			current.InstanceID = target.ID
			moved = true
			return current, xsync.UpdateOp
		})
		if !moved {
			target.release()
			return true
		}

		s.indexRemove(oldID, clientID)
		s.indexAdd(target.ID, clientID)
		s.emit(Event{Kind: EventMigrated, ClientID: clientID, InstanceID: target.ID, Detail: "orphaned from " + oldID})
		return true
	})
}
