package supervisor

// EventKind labels supervisor lifecycle events delivered to OnEvent.
type EventKind string

const (
	EventRegistered         EventKind = "registered"
	EventRegisterFailed     EventKind = "register_failed"
	EventUnregistered       EventKind = "unregistered"
	EventEvicted            EventKind = "evicted"
	EventMigrated           EventKind = "migrated"
	EventRecovered          EventKind = "recovered"
	EventRecoveryExhausted  EventKind = "recovery_exhausted"
	EventOrphanDropped      EventKind = "orphan_dropped"
	EventInstanceAdded      EventKind = "instance_added"
	EventInstanceRemoved    EventKind = "instance_removed"
	EventInstanceUnhealthy  EventKind = "instance_unhealthy"
	EventInstanceRecovered  EventKind = "instance_recovered"
	EventInstanceOverloaded EventKind = "instance_overloaded"
)

// Event is one supervisor lifecycle occurrence.
// Handlers run synchronously on the caller's goroutine; keep them light.
type Event struct {
	Kind       EventKind
	ClientID   string
	InstanceID string
	Detail     string
}

// EventFunc receives supervisor events.
type EventFunc func(Event)
