package metrics

import (
	"sync"
	"testing"
)

func TestCollector_GlobalCounters(t *testing.T) {
	c := NewCollector()

	c.RecordAuth("chat", true)
	c.RecordAuth("chat", false)
	c.RecordAuth("", true)
	c.RecordMessage(true)
	c.RecordMessage(false)
	c.RecordRateLimitHit()
	c.RecordAbuse()
	c.RecordBlock()
	c.RecordForcedClose()
	c.RecordError(3)
	c.RecordError(0)
	c.RecordError(99) // out of range, ignored

	s := c.Snapshot()
	if s.AuthSuccess != 2 || s.AuthFailure != 1 {
		t.Fatalf("auth counters: %+v", s)
	}
	if s.MessagesAccepted != 1 || s.MessagesRejected != 1 {
		t.Fatalf("message counters: %+v", s)
	}
	if s.RateLimitHits != 1 || s.AbuseRecords != 1 || s.ClientsBlocked != 1 || s.ForcedCloses != 1 {
		t.Fatalf("screen counters: %+v", s)
	}
	if s.ErrorsBySeverity != [4]int64{1, 0, 0, 1} {
		t.Fatalf("severity counters: %v", s.ErrorsBySeverity)
	}
}

func TestCollector_ConnectionGauge(t *testing.T) {
	c := NewCollector()

	c.RecordConnection(1)
	c.RecordConnection(1)
	c.RecordConnection(-1)

	s := c.Snapshot()
	if s.ActiveConnections != 1 {
		t.Fatalf("gauge should be 1, got %d", s.ActiveConnections)
	}
	if s.Registrations != 2 {
		t.Fatalf("registrations should count only increments, got %d", s.Registrations)
	}
}

func TestCollector_NamespaceScoping(t *testing.T) {
	c := NewCollector()

	c.RecordAuth("chat", true)
	c.RecordAuth("admin", false)

	ns := c.NamespaceSnapshots()
	if len(ns) != 2 {
		t.Fatalf("expected 2 namespaces, got %d", len(ns))
	}
	if ns["chat"].AuthSuccess != 1 || ns["chat"].AuthFailure != 0 {
		t.Fatalf("chat counters: %+v", ns["chat"])
	}
	if ns["admin"].AuthFailure != 1 {
		t.Fatalf("admin counters: %+v", ns["admin"])
	}
	// Empty namespace only updates the global scope.
	c.RecordAuth("", true)
	if len(c.NamespaceSnapshots()) != 2 {
		t.Fatal("empty namespace must not create a scope")
	}
}

func TestCollector_ConcurrentUpdates(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.RecordAuth("chat", true)
				c.RecordConnection(1)
				c.RecordConnection(-1)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.AuthSuccess != 8000 {
		t.Fatalf("expected 8000 auth successes, got %d", s.AuthSuccess)
	}
	if s.ActiveConnections != 0 {
		t.Fatalf("gauge should settle at 0, got %d", s.ActiveConnections)
	}
}
