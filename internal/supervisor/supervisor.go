// Package supervisor implements the connection lifecycle supervisor:
// registration and placement across server instances, state transitions,
// a bounded recovery queue, and the periodic maintenance loop that
// health-checks instances, evicts idle connections, and reconciles orphans.
package supervisor

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/gatewarden/gatewarden/internal/sweep"
)

var (
	ErrDuplicateInstance = errors.New("instance id already registered")
)

// RecoverFunc attempts to re-establish one errored connection and reports
// success. Injectable for testing and for transports with their own
// re-establishment semantics.
type RecoverFunc func(rec ConnectionRecord) bool

// Config configures the Supervisor. Threshold fields are closures so hot
// config swaps take effect on the next maintenance pass.
type Config struct {
	Clock clock.Clock // nil means wall clock

	// StrategyName selects the active load-balancing strategy by name;
	// unknown names fall back to round-robin.
	StrategyName func() string

	IdleTimeout         func() time.Duration
	RecoveryMaxAttempts func() int
	OverloadThreshold   func() float64

	// MaintenanceInterval is the background loop cadence. Zero uses the
	// shared sweep default.
	MaintenanceInterval time.Duration

	// RecoveryQueueSize bounds the recovery queue; 0 uses the default.
	RecoveryQueueSize int

	// HealthCheck probes one instance. Nil treats every instance as healthy.
	HealthCheck HealthCheckFunc

	// Recover attempts to re-establish one errored connection. Nil falls
	// back to "instance still healthy" as the recovery criterion.
	Recover RecoverFunc

	// OnEvent is called synchronously; handlers must stay lightweight.
	OnEvent EventFunc
}

const defaultRecoveryQueueSize = 1024

// Supervisor owns the connection registry and the instance pool.
type Supervisor struct {
	clock clock.Clock

	conns     *xsync.Map[string, ConnectionRecord]
	instances *xsync.Map[string, *ServerInstance]
	index     *xsync.Map[string, *xsync.Map[string, struct{}]]

	recovery chan string

	strategies   map[string]Strategy
	strategyName func() string

	idleTimeout         func() time.Duration
	recoveryMaxAttempts func() int
	overloadThreshold   func() float64
	interval            time.Duration

	healthCheck HealthCheckFunc
	recoverFn   RecoverFunc
	onEvent     EventFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSupervisor creates a Supervisor from cfg.
func NewSupervisor(cfg Config) *Supervisor {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	queueSize := cfg.RecoveryQueueSize
	if queueSize <= 0 {
		queueSize = defaultRecoveryQueueSize
	}
	interval := cfg.MaintenanceInterval
	if interval <= 0 {
		interval = sweep.DefaultInterval
	}
	return &Supervisor{
		clock:               clk,
		conns:               xsync.NewMap[string, ConnectionRecord](),
		instances:           xsync.NewMap[string, *ServerInstance](),
		index:               xsync.NewMap[string, *xsync.Map[string, struct{}]](),
		recovery:            make(chan string, queueSize),
		strategies:          newStrategyTable(),
		strategyName:        cfg.StrategyName,
		idleTimeout:         cfg.IdleTimeout,
		recoveryMaxAttempts: cfg.RecoveryMaxAttempts,
		overloadThreshold:   cfg.OverloadThreshold,
		interval:            interval,
		healthCheck:         cfg.HealthCheck,
		recoverFn:           cfg.Recover,
		onEvent:             cfg.OnEvent,
		stopCh:              make(chan struct{}),
	}
}

// Start launches the background maintenance loop.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sweep.Run(s.stopCh, s.interval, sweep.DefaultJitter, s.RunMaintenance)
	}()
}

// Stop signals the maintenance loop to stop and waits for it.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// --- instances ---

// AddInstance registers a backend instance. Weight <= 0 defaults to 1.
func (s *Supervisor) AddInstance(id, host string, port int, capacity int64, weight float64) error {
	if id == "" {
		return fmt.Errorf("add instance: empty id")
	}
	if capacity <= 0 {
		return fmt.Errorf("add instance %s: capacity must be positive", id)
	}
	if weight <= 0 {
		weight = 1
	}
	inst := newServerInstance(id, host, port, capacity, weight)
	_, loaded := s.instances.LoadOrCompute(id, func() (*ServerInstance, bool) {
		return inst, false
	})
	if loaded {
		return fmt.Errorf("add instance %s: %w", id, ErrDuplicateInstance)
	}
	s.emit(Event{Kind: EventInstanceAdded, InstanceID: id})
	return nil
}

// RemoveInstance deletes an instance, first migrating every connection
// indexed under it via the active strategy. Connections with no migration
// target stay registered against the removed id and are reconciled by the
// next maintenance pass.
func (s *Supervisor) RemoveInstance(id string) bool {
	inst, ok := s.instances.LoadAndDelete(id)
	if !ok {
		return false
	}
	s.migrateOff(inst)
	s.emit(Event{Kind: EventInstanceRemoved, InstanceID: id})
	return true
}

// Instances returns snapshots of all registered instances, sorted by id.
func (s *Supervisor) Instances() []InstanceSnapshot {
	var insts []*ServerInstance
	s.instances.Range(func(_ string, inst *ServerInstance) bool {
		insts = append(insts, inst)
		return true
	})
	sortByID(insts)
	out := make([]InstanceSnapshot, len(insts))
	for i, inst := range insts {
		out[i] = inst.snapshot()
	}
	return out
}

// --- connections ---

// Register places a new connection on an instance selected by the active
// strategy from the healthy, under-capacity subset. Returns false when the
// client id is already registered or no instance qualifies.
func (s *Supervisor) Register(clientID, sessionID string, meta Meta) bool {
	if _, exists := s.conns.Load(clientID); exists {
		s.emit(Event{Kind: EventRegisterFailed, ClientID: clientID, Detail: "already registered"})
		return false
	}

	inst := s.place(nil)
	if inst == nil {
		s.emit(Event{Kind: EventRegisterFailed, ClientID: clientID, Detail: "no instance available"})
		return false
	}

	nowNs := s.clock.Now().UnixNano()
	record := ConnectionRecord{
		ClientID:       clientID,
		SessionID:      sessionID,
		ConnectedAtNs:  nowNs,
		LastActivityNs: nowNs,
		State:          StateConnecting,
		InstanceID:     inst.ID,
		Meta:           meta,
	}

	inserted := false
	s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
		if loaded {
			return current, xsync.CancelOp
		}
		inserted = true
		return record, xsync.UpdateOp
	})
	if !inserted {
		inst.release()
		s.emit(Event{Kind: EventRegisterFailed, ClientID: clientID, Detail: "already registered"})
		return false
	}

	s.indexAdd(inst.ID, clientID)
	s.emit(Event{Kind: EventRegistered, ClientID: clientID, InstanceID: inst.ID})
	return true
}

// SetState transitions a connection's lifecycle state and refreshes its
// activity time. A transition into Error enqueues the client for recovery;
// a transition into Connected resets the recovery-attempt counter.
func (s *Supervisor) SetState(clientID string, state ConnState) bool {
	nowNs := s.clock.Now().UnixNano()
	updated := false
	s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
		if !loaded {
			return current, xsync.CancelOp
		}
		current.State = state
		current.LastActivityNs = nowNs
		if state == StateConnected {
			current.RecoveryAttempts = 0
		}
		updated = true
		return current, xsync.UpdateOp
	})
	if updated && state == StateError {
		s.enqueueRecovery(clientID)
	}
	return updated
}

// Touch records message activity on a connection.
func (s *Supervisor) Touch(clientID string, bytes int64) bool {
	nowNs := s.clock.Now().UnixNano()
	updated := false
	s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
		if !loaded {
			return current, xsync.CancelOp
		}
		current.LastActivityNs = nowNs
		current.Messages++
		current.Bytes += bytes
		updated = true
		return current, xsync.UpdateOp
	})
	return updated
}

// RecordError increments a connection's error counter.
func (s *Supervisor) RecordError(clientID string) {
	s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
		if !loaded {
			return current, xsync.CancelOp
		}
		current.Errors++
		return current, xsync.UpdateOp
	})
}

// Unregister removes a connection, releasing its instance slot and index
// entry. Idempotent: unregistering an unknown client id is a no-op.
func (s *Supervisor) Unregister(clientID string) bool {
	return s.drop(clientID, EventUnregistered, "")
}

// Get returns a copy of a connection record.
func (s *Supervisor) Get(clientID string) (ConnectionRecord, bool) {
	return s.conns.Load(clientID)
}

// Connections returns a copy of every connection record.
func (s *Supervisor) Connections() []ConnectionRecord {
	out := make([]ConnectionRecord, 0, s.conns.Size())
	s.conns.Range(func(_ string, rec ConnectionRecord) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// Stats is the supervisor portion of the governance stats snapshot.
type Stats struct {
	Connections      int            `json:"connections"`
	ByState          map[string]int `json:"by_state"`
	Instances        int            `json:"instances"`
	HealthyInstances int            `json:"healthy_instances"`
	RecoveryQueue    int            `json:"recovery_queue"`
}

// Snapshot returns a point-in-time Stats.
func (s *Supervisor) Snapshot() Stats {
	st := Stats{
		Connections:   s.conns.Size(),
		ByState:       make(map[string]int),
		RecoveryQueue: len(s.recovery),
	}
	s.conns.Range(func(_ string, rec ConnectionRecord) bool {
		st.ByState[rec.State.String()]++
		return true
	})
	s.instances.Range(func(_ string, inst *ServerInstance) bool {
		st.Instances++
		if inst.Healthy() {
			st.HealthyInstances++
		}
		return true
	})
	return st
}

// --- placement ---

// place picks and reserves a slot on an instance via the active strategy.
// Instances in exclude are skipped. Returns nil when nothing qualifies.
func (s *Supervisor) place(exclude map[string]struct{}) *ServerInstance {
	var candidates []*ServerInstance
	s.instances.Range(func(id string, inst *ServerInstance) bool {
		if _, skip := exclude[id]; skip {
			return true
		}
		if inst.Healthy() && inst.HasCapacity() {
			candidates = append(candidates, inst)
		}
		return true
	})
	sortByID(candidates)

	strategy := s.activeStrategy()
	for len(candidates) > 0 {
		chosen := strategy.Select(candidates)
		if chosen == nil {
			return nil
		}
		if chosen.tryAcquire() {
			return chosen
		}
		// Lost the capacity race; retry without this candidate.
		kept := candidates[:0]
		for _, c := range candidates {
			if c != chosen {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	return nil
}

func (s *Supervisor) activeStrategy() Strategy {
	name := StrategyRoundRobin
	if s.strategyName != nil {
		name = s.strategyName()
	}
	if strategy, ok := s.strategies[name]; ok {
		return strategy
	}
	return s.strategies[StrategyRoundRobin]
}

// migrateOff moves every connection indexed under inst to a newly selected
// instance. Connections with no target are left in place for the next
// maintenance pass to reconcile.
func (s *Supervisor) migrateOff(inst *ServerInstance) {
	set, ok := s.index.Load(inst.ID)
	if !ok {
		return
	}
	set.Range(func(clientID string, _ struct{}) bool {
		exclude := map[string]struct{}{inst.ID: {}}
		target := s.place(exclude)
		if target == nil {
			return false // nothing qualifies; remaining conns stay orphaned
		}

		moved := false
		s.conns.Compute(clientID, func(current ConnectionRecord, loaded bool) (ConnectionRecord, xsync.ComputeOp) {
			if !loaded || current.InstanceID != inst.ID {
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

		s.indexRemove(inst.ID, clientID)
		s.indexAdd(target.ID, clientID)
		inst.release()
		s.emit(Event{Kind: EventMigrated, ClientID: clientID, InstanceID: target.ID, Detail: "from " + inst.ID})
		return true
	})
}

// --- internals ---

func (s *Supervisor) drop(clientID string, kind EventKind, detail string) bool {
	rec, ok := s.conns.LoadAndDelete(clientID)
	if !ok {
		return false
	}
	s.indexRemove(rec.InstanceID, clientID)
	if inst, ok := s.instances.Load(rec.InstanceID); ok {
		inst.release()
	}
	s.emit(Event{Kind: kind, ClientID: clientID, InstanceID: rec.InstanceID, Detail: detail})
	return true
}

func (s *Supervisor) indexAdd(instanceID, clientID string) {
	set, _ := s.index.LoadOrCompute(instanceID, func() (*xsync.Map[string, struct{}], bool) {
		return xsync.NewMap[string, struct{}](), false
	})
	set.Store(clientID, struct{}{})
}

func (s *Supervisor) indexRemove(instanceID, clientID string) {
	if set, ok := s.index.Load(instanceID); ok {
		set.Delete(clientID)
	}
}

func (s *Supervisor) enqueueRecovery(clientID string) {
	select {
	case s.recovery <- clientID:
	default:
		log.Printf("[supervisor] recovery queue full, dropping %s", clientID)
	}
}

func (s *Supervisor) emit(event Event) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}
