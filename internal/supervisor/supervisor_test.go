package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type testSupervisorOpts struct {
	strategy    string
	idleTimeout time.Duration
	healthCheck HealthCheckFunc
	recover     RecoverFunc
}

func newTestSupervisor(t *testing.T, clk clock.Clock, rec *eventRecorder, opts testSupervisorOpts) *Supervisor {
	t.Helper()
	if opts.strategy == "" {
		opts.strategy = StrategyRoundRobin
	}
	if opts.idleTimeout == 0 {
		opts.idleTimeout = 300 * time.Second
	}
	var onEvent EventFunc
	if rec != nil {
		onEvent = rec.record
	}
	return NewSupervisor(Config{
		Clock:               clk,
		StrategyName:        func() string { return opts.strategy },
		IdleTimeout:         func() time.Duration { return opts.idleTimeout },
		RecoveryMaxAttempts: func() int { return 3 },
		OverloadThreshold:   func() float64 { return 0.9 },
		HealthCheck:         opts.healthCheck,
		Recover:             opts.recover,
		OnEvent:             onEvent,
	})
}

func addInstances(t *testing.T, s *Supervisor, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.AddInstance(id, "127.0.0.1", 9000, 100, 1.0); err != nil {
			t.Fatalf("add instance %s: %v", id, err)
		}
	}
}

// ── registration and placement ──

func TestSupervisor_Register_DuplicateClientID(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{})
	addInstances(t, s, "i1")

	if !s.Register("c1", "sess-1", Meta{}) {
		t.Fatal("first register should succeed")
	}
	if s.Register("c1", "sess-2", Meta{}) {
		t.Fatal("duplicate client id must be rejected")
	}

	// The failed register must not leak a slot.
	insts := s.Instances()
	if insts[0].Active != 1 {
		t.Fatalf("expected active=1, got %d", insts[0].Active)
	}
}

func TestSupervisor_Register_NoInstances(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{})

	if s.Register("c1", "", Meta{}) {
		t.Fatal("register with no instances must fail")
	}
	if rec.count(EventRegisterFailed) != 1 {
		t.Fatal("expected a register_failed event")
	}
}

func TestSupervisor_RoundRobin_SpreadsEvenly(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{strategy: StrategyRoundRobin})
	addInstances(t, s, "i1", "i2", "i3")

	for i := 0; i < 9; i++ {
		if !s.Register(string(rune('a'+i)), "", Meta{}) {
			t.Fatalf("register %d failed", i)
		}
	}
	for _, inst := range s.Instances() {
		if inst.Active != 3 {
			t.Fatalf("instance %s: expected 3 connections, got %d", inst.ID, inst.Active)
		}
	}
}

func TestSupervisor_LeastConnections_PrefersEmptiest(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{strategy: StrategyLeastConnections})
	addInstances(t, s, "i1", "i2")

	s.Register("c1", "", Meta{})
	s.Register("c2", "", Meta{})
	s.Register("c3", "", Meta{})

	counts := map[string]int64{}
	for _, inst := range s.Instances() {
		counts[inst.ID] = inst.Active
	}
	if counts["i1"]+counts["i2"] != 3 || counts["i1"] == 0 || counts["i2"] == 0 {
		t.Fatalf("least-connections should spread, got %v", counts)
	}
}

func TestSupervisor_Weighted_PrefersHigherWeight(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{strategy: StrategyWeighted})
	if err := s.AddInstance("light", "127.0.0.1", 9000, 100, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInstance("heavy", "127.0.0.1", 9001, 100, 2.0); err != nil {
		t.Fatal(err)
	}

	s.Register("c1", "", Meta{})
	rec, _ := s.Get("c1")
	if rec.InstanceID != "heavy" {
		t.Fatalf("expected placement on heavy, got %s", rec.InstanceID)
	}
}

func TestSupervisor_CapacityExhausted(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{})
	if err := s.AddInstance("i1", "127.0.0.1", 9000, 2, 1.0); err != nil {
		t.Fatal(err)
	}

	s.Register("c1", "", Meta{})
	s.Register("c2", "", Meta{})
	if s.Register("c3", "", Meta{}) {
		t.Fatal("register beyond capacity must fail")
	}
}

func TestSupervisor_Unregister_Idempotent(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{})
	addInstances(t, s, "i1")

	s.Register("c1", "", Meta{})
	if !s.Unregister("c1") {
		t.Fatal("unregister should succeed")
	}
	if s.Unregister("c1") {
		t.Fatal("second unregister must be a no-op")
	}
	if got := s.Instances()[0].Active; got != 0 {
		t.Fatalf("slot should be released, active=%d", got)
	}
}

// ── state and activity ──

func TestSupervisor_SetState_ConnectedResetsRecoveryAttempts(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{
		recover: func(ConnectionRecord) bool { return false },
	})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})

	s.SetState("c1", StateError)
	s.RunMaintenance() // one failed recovery attempt
	rec, _ := s.Get("c1")
	if rec.RecoveryAttempts != 1 {
		t.Fatalf("expected 1 recovery attempt, got %d", rec.RecoveryAttempts)
	}

	s.SetState("c1", StateConnected)
	rec, _ = s.Get("c1")
	if rec.RecoveryAttempts != 0 {
		t.Fatal("Connected must reset the recovery-attempt counter")
	}
}

func TestSupervisor_Touch_UpdatesCounters(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})

	clk.Add(5 * time.Second)
	s.Touch("c1", 128)
	s.Touch("c1", 64)

	rec, _ := s.Get("c1")
	if rec.Messages != 2 || rec.Bytes != 192 {
		t.Fatalf("expected 2 messages / 192 bytes, got %d / %d", rec.Messages, rec.Bytes)
	}
	if rec.LastActivityNs != clk.Now().UnixNano() {
		t.Fatal("Touch must refresh last activity")
	}
}

// ── maintenance: recovery ──

func TestSupervisor_Recovery_SucceedsAndReconnects(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{
		recover: func(ConnectionRecord) bool { return true },
	})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})

	s.SetState("c1", StateError)
	s.RunMaintenance()

	record, ok := s.Get("c1")
	if !ok || record.State != StateConnected {
		t.Fatalf("expected recovered to Connected, got %v ok=%v", record.State, ok)
	}
	if rec.count(EventRecovered) != 1 {
		t.Fatal("expected a recovered event")
	}
}

func TestSupervisor_Recovery_ExhaustsAfterCap(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{
		recover: func(ConnectionRecord) bool { return false },
	})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})
	s.SetState("c1", StateError)

	// Each pass makes one attempt; the third reaches the cap.
	s.RunMaintenance()
	s.RunMaintenance()
	if _, ok := s.Get("c1"); !ok {
		t.Fatal("connection should survive first two attempts")
	}
	s.RunMaintenance()

	if _, ok := s.Get("c1"); ok {
		t.Fatal("connection must be unregistered after the attempt cap")
	}
	if rec.count(EventRecoveryExhausted) != 1 {
		t.Fatal("expected a recovery_exhausted event")
	}
	if got := s.Instances()[0].Active; got != 0 {
		t.Fatalf("slot should be released, active=%d", got)
	}
}

// ── maintenance: idle eviction ──

func TestSupervisor_IdleEviction(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{idleTimeout: 300 * time.Second})
	addInstances(t, s, "i1")
	s.Register("idle", "", Meta{})
	s.Register("busy", "", Meta{})

	clk.Add(200 * time.Second)
	s.Touch("busy", 1)
	clk.Add(101 * time.Second) // idle is now 301s stale, busy 101s

	s.RunMaintenance()

	if _, ok := s.Get("idle"); ok {
		t.Fatal("idle connection should be evicted")
	}
	if _, ok := s.Get("busy"); !ok {
		t.Fatal("active connection must survive")
	}
	if rec.count(EventEvicted) != 1 {
		t.Fatalf("expected 1 eviction, got %d", rec.count(EventEvicted))
	}
}

// ── maintenance: instance health ──

func TestSupervisor_UnhealthyInstance_DrainsToHealthy(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	unhealthy := map[string]bool{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{
		healthCheck: func(inst *ServerInstance) bool { return !unhealthy[inst.ID] },
	})
	addInstances(t, s, "i1", "i2")

	s.Register("c1", "", Meta{})
	before, _ := s.Get("c1")

	unhealthy[before.InstanceID] = true
	s.RunMaintenance()

	after, ok := s.Get("c1")
	if !ok {
		t.Fatal("connection should survive the drain")
	}
	if after.InstanceID == before.InstanceID {
		t.Fatal("connection should be migrated off the unhealthy instance")
	}
	if rec.count(EventInstanceUnhealthy) != 1 || rec.count(EventMigrated) != 1 {
		t.Fatalf("expected unhealthy+migrated events, got %v", rec.events)
	}
}

func TestSupervisor_OverloadFlagged(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{})
	if err := s.AddInstance("i1", "127.0.0.1", 9000, 10, 1.0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 9; i++ {
		s.Register(string(rune('a'+i)), "", Meta{})
	}

	s.RunMaintenance()
	if rec.count(EventInstanceOverloaded) != 1 {
		t.Fatal("expected an instance_overloaded event at 90% utilization")
	}
}

// ── instance removal and orphans ──

func TestSupervisor_RemoveInstance_MigratesConnections(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{})
	addInstances(t, s, "i1", "i2")

	for i := 0; i < 4; i++ {
		s.Register(string(rune('a'+i)), "", Meta{})
	}

	if !s.RemoveInstance("i1") {
		t.Fatal("remove should succeed")
	}
	if s.RemoveInstance("i1") {
		t.Fatal("second remove must be a no-op")
	}

	for _, record := range s.Connections() {
		if record.InstanceID != "i2" {
			t.Fatalf("connection %s not migrated: %s", record.ClientID, record.InstanceID)
		}
	}
	insts := s.Instances()
	if len(insts) != 1 || insts[0].Active != 4 {
		t.Fatalf("expected i2 with 4 active, got %+v", insts)
	}
}

func TestSupervisor_Orphans_DroppedWhenNoInstanceAvailable(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})

	s.RemoveInstance("i1") // nowhere to migrate; c1 is orphaned
	if _, ok := s.Get("c1"); !ok {
		t.Fatal("orphan should stay registered until reconciliation")
	}

	s.RunMaintenance()
	if _, ok := s.Get("c1"); ok {
		t.Fatal("orphan must be dropped when no instance is available")
	}
	if rec.count(EventOrphanDropped) != 1 {
		t.Fatal("expected an orphan_dropped event")
	}
}

func TestSupervisor_Orphans_ReplacedWhenInstanceAppears(t *testing.T) {
	clk := clock.NewMock()
	rec := &eventRecorder{}
	s := newTestSupervisor(t, clk, rec, testSupervisorOpts{})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})

	s.RemoveInstance("i1")
	addInstances(t, s, "i2")
	s.RunMaintenance()

	record, ok := s.Get("c1")
	if !ok || record.InstanceID != "i2" {
		t.Fatalf("orphan should be re-placed on i2, got %+v ok=%v", record, ok)
	}
	if rec.count(EventMigrated) != 1 {
		t.Fatal("expected a migrated event for the re-placed orphan")
	}
}

// ── snapshots ──

func TestSupervisor_Snapshot(t *testing.T) {
	clk := clock.NewMock()
	s := newTestSupervisor(t, clk, nil, testSupervisorOpts{})
	addInstances(t, s, "i1")
	s.Register("c1", "", Meta{})
	s.SetState("c1", StateConnected)
	s.Register("c2", "", Meta{})

	st := s.Snapshot()
	if st.Connections != 2 || st.Instances != 1 || st.HealthyInstances != 1 {
		t.Fatalf("unexpected snapshot: %+v", st)
	}
	if st.ByState["connected"] != 1 || st.ByState["connecting"] != 1 {
		t.Fatalf("unexpected state counts: %v", st.ByState)
	}
}
