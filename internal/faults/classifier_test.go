package faults

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type collaborators struct {
	mu          sync.Mutex
	notices     map[string][]Notice
	closed      map[string]string
	invalidated []string
}

func newCollaborators() *collaborators {
	return &collaborators{
		notices: map[string][]Notice{},
		closed:  map[string]string{},
	}
}

func (c *collaborators) notify(clientID string, n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices[clientID] = append(c.notices[clientID], n)
}

func (c *collaborators) close(clientID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed[clientID] = reason
}

func (c *collaborators) invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, sessionID)
}

func newTestClassifier(clk clock.Clock, collab *collaborators) *Classifier {
	return NewClassifier(Config{
		Clock:                      clk,
		HistorySize:                5,
		TrackWindow:                func() time.Duration { return time.Hour },
		ClientDisconnectThreshold:  func() int { return 3 },
		SessionInvalidateThreshold: func() int { return 5 },
		Notify:                     collab.notify,
		CloseClient:                collab.close,
		InvalidateSession:          collab.invalidate,
	})
}

// ── severity table ──

func TestSeverityOf_StaticTable(t *testing.T) {
	cases := map[Kind]Severity{
		KindSecurity:       SeverityCritical,
		KindInternal:       SeverityCritical,
		KindAuthentication: SeverityHigh,
		KindProtocol:       SeverityHigh,
		KindConnection:     SeverityMedium,
		KindTimeout:        SeverityMedium,
		KindValidation:     SeverityLow,
		KindRateLimit:      SeverityLow,
		Kind("bogus"):      SeverityLow,
	}
	for kind, want := range cases {
		if got := SeverityOf(kind); got != want {
			t.Errorf("SeverityOf(%s) = %s, want %s", kind, got, want)
		}
	}
}

// ── dispatch ──

func TestClassifier_RecoverableKinds_NotifyAndSurvive(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	for _, kind := range []Kind{KindConnection, KindValidation, KindRateLimit, KindTimeout} {
		clientID := "client-" + string(kind)
		if !c.Handle(kind, "boom", clientID, "", nil) {
			t.Errorf("%s should be recoverable", kind)
		}
		notices := collab.notices[clientID]
		if len(notices) != 1 || !notices[0].Recoverable {
			t.Errorf("%s: expected one recoverable notice, got %v", kind, notices)
		}
		if _, closed := collab.closed[clientID]; closed {
			t.Errorf("%s must not close the connection", kind)
		}
	}
}

func TestClassifier_FatalKinds_CloseConnection(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	for _, kind := range []Kind{KindAuthentication, KindProtocol, KindSecurity} {
		clientID := "client-" + string(kind)
		if c.Handle(kind, "boom", clientID, "", nil) {
			t.Errorf("%s should be fatal", kind)
		}
		notices := collab.notices[clientID]
		if len(notices) != 1 || notices[0].Recoverable {
			t.Errorf("%s: expected a non-recoverable notice, got %v", kind, notices)
		}
		if _, closed := collab.closed[clientID]; !closed {
			t.Errorf("%s must force-close the connection", kind)
		}
	}
}

func TestClassifier_NoticeNeverLeaksInternals(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	secret := "panic at handler.go:42: secret token abc"
	c.Handle(KindInternal, secret, "c1", "", nil)
	notice := collab.notices["c1"][0]
	if notice.Message == secret {
		t.Fatal("client notice must use the fixed message, not the internal one")
	}
}

// ── escalation ──

func TestClassifier_ClientThreshold_ForcesDisconnect(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	c.Handle(KindValidation, "bad", "c1", "", nil)
	c.Handle(KindValidation, "bad", "c1", "", nil)
	if _, closed := collab.closed["c1"]; closed {
		t.Fatal("should not close below the threshold")
	}

	// Third low-severity error trips the client threshold even though the
	// kind itself is recoverable.
	if c.Handle(KindValidation, "bad", "c1", "", nil) {
		t.Fatal("threshold breach must report the connection as lost")
	}
	if reason := collab.closed["c1"]; reason == "" {
		t.Fatal("client must be force-closed at the threshold")
	}
}

func TestClassifier_ClientThreshold_WindowSlides(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	c.Handle(KindValidation, "bad", "c1", "", nil)
	c.Handle(KindValidation, "bad", "c1", "", nil)
	clk.Add(61 * time.Minute) // both age out of the one-hour window

	if !c.Handle(KindValidation, "bad", "c1", "", nil) {
		t.Fatal("aged-out errors must not count toward the threshold")
	}
	if got := c.ClientErrorCount("c1"); got != 1 {
		t.Fatalf("expected count 1 after window slide, got %d", got)
	}
}

func TestClassifier_SessionThreshold_InvalidatesSession(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	// Spread errors across clients so the per-client threshold never trips,
	// while the shared session accumulates.
	for i := 0; i < 4; i++ {
		c.Handle(KindValidation, "bad", string(rune('a'+i)), "sess-1", nil)
	}
	if len(collab.invalidated) != 0 {
		t.Fatal("session should survive below the threshold")
	}

	c.Handle(KindValidation, "bad", "e", "sess-1", nil)
	if len(collab.invalidated) != 1 || collab.invalidated[0] != "sess-1" {
		t.Fatalf("expected sess-1 invalidated, got %v", collab.invalidated)
	}
	// History is cleared on invalidation.
	if got := c.SessionErrorCount("sess-1"); got != 0 {
		t.Fatalf("session history should be cleared, got %d", got)
	}
}

func TestClassifier_Forget_DropsClientHistory(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	c.Handle(KindValidation, "bad", "c1", "", nil)
	c.Handle(KindValidation, "bad", "c1", "", nil)
	c.Forget("c1")

	if !c.Handle(KindValidation, "bad", "c1", "", nil) {
		t.Fatal("history must restart after Forget")
	}
}

// ── history and counters ──

func TestClassifier_RingBufferBounded(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab) // history size 5

	for i := 0; i < 8; i++ {
		clk.Add(time.Second)
		c.Handle(KindTimeout, "t", "", "", nil)
	}

	st := c.Snapshot()
	if st.Total != 8 {
		t.Fatalf("expected total 8, got %d", st.Total)
	}
	if st.History != 5 {
		t.Fatalf("ring must cap at 5, got %d", st.History)
	}

	recent := c.Recent(10)
	if len(recent) != 5 {
		t.Fatalf("expected 5 recent events, got %d", len(recent))
	}
	// Newest first.
	for i := 1; i < len(recent); i++ {
		if recent[i-1].TsNs < recent[i].TsNs {
			t.Fatal("Recent must return events newest first")
		}
	}
}

func TestClassifier_SnapshotCounters(t *testing.T) {
	clk := clock.NewMock()
	collab := newCollaborators()
	c := newTestClassifier(clk, collab)

	c.Handle(KindSecurity, "s", "", "", nil)
	c.Handle(KindTimeout, "t", "", "", nil)
	c.Handle(KindTimeout, "t", "", "", nil)

	st := c.Snapshot()
	if st.ByKind["security"] != 1 || st.ByKind["timeout"] != 2 {
		t.Fatalf("unexpected kind counters: %v", st.ByKind)
	}
	if st.BySeverity["critical"] != 1 || st.BySeverity["medium"] != 2 {
		t.Fatalf("unexpected severity counters: %v", st.BySeverity)
	}
}
