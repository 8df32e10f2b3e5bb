// Package screen implements the security screen: time-windowed rate limiting
// per key, injection signature scanning, and cumulative abuse scoring that
// converts repeated low-severity signals into a blocking decision.
package screen

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/gatewarden/gatewarden/internal/sweep"
)

// EventKind labels screen events delivered to the OnEvent callback.
type EventKind string

const (
	EventRateLimited     EventKind = "rate_limited"
	EventAbuseRecorded   EventKind = "abuse_recorded"
	EventClientBlocked   EventKind = "client_blocked"
	EventClientUnblocked EventKind = "client_unblocked"
)

// Event is one screen decision worth auditing.
type Event struct {
	Kind      EventKind
	ClientID  string
	Key       string // rate-limit key (client id, user id, or source address)
	AbuseType AbuseType
	Severity  float64
}

// Config configures the Screen. Threshold fields are closures so hot config
// swaps take effect on the next check.
type Config struct {
	Clock clock.Clock // nil means wall clock

	ConnectionRateLimit  func() int
	ConnectionRateWindow func() time.Duration
	MessageRateLimit     func() int
	MessageRateWindow    func() time.Duration
	AuthRateLimit        func() int
	AuthRateWindow       func() time.Duration

	MaxMessageBytes func() int
	AllowedTypes    func() []string

	BlockThreshold func() float64
	// AbuseIncrement returns the severity added per signal of the given type.
	AbuseIncrement func(AbuseType) float64

	// OnEvent is called synchronously; handlers must stay lightweight.
	OnEvent func(Event)
}

// Screen owns the rate windows, abuse patterns, and block set.
type Screen struct {
	clock clock.Clock

	connLimiter *limiter
	msgLimiter  *limiter
	authLimiter *limiter

	patterns *xsync.Map[patternKey, AbusePattern]
	blocked  *xsync.Map[string, int64] // clientID -> blockedAt unix-nano

	maxMessageBytes func() int
	allowedTypes    func() []string
	blockThreshold  func() float64
	abuseIncrement  func(AbuseType) float64
	onEvent         func(Event)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScreen creates a Screen from cfg.
func NewScreen(cfg Config) *Screen {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &Screen{
		clock:           clk,
		patterns:        xsync.NewMap[patternKey, AbusePattern](),
		blocked:         xsync.NewMap[string, int64](),
		maxMessageBytes: cfg.MaxMessageBytes,
		allowedTypes:    cfg.AllowedTypes,
		blockThreshold:  cfg.BlockThreshold,
		abuseIncrement:  cfg.AbuseIncrement,
		onEvent:         cfg.OnEvent,
		stopCh:          make(chan struct{}),
	}
	s.connLimiter = newLimiter(clk, cfg.ConnectionRateLimit, cfg.ConnectionRateWindow)
	s.msgLimiter = newLimiter(clk, cfg.MessageRateLimit, cfg.MessageRateWindow)
	s.authLimiter = newLimiter(clk, cfg.AuthRateLimit, cfg.AuthRateWindow)
	return s
}

// Start launches the janitor that prunes aged-out rate windows.
func (s *Screen) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sweep.Run(s.stopCh, sweep.DefaultInterval, sweep.DefaultJitter, s.pruneWindows)
	}()
}

// Stop stops the janitor and waits for it.
func (s *Screen) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// CheckConnectionRate tests and records one connection attempt for key.
// A blocked client fails immediately, independent of window state.
func (s *Screen) CheckConnectionRate(key string) bool {
	if s.IsBlocked(key) {
		return false
	}
	if !s.connLimiter.allow(key) {
		s.emit(Event{Kind: EventRateLimited, ClientID: key, Key: key})
		return false
	}
	return true
}

// CheckMessageRate tests and records one message observation for key.
func (s *Screen) CheckMessageRate(key string) bool {
	if s.IsBlocked(key) {
		return false
	}
	if !s.msgLimiter.allow(key) {
		s.emit(Event{Kind: EventRateLimited, ClientID: key, Key: key})
		return false
	}
	return true
}

// CheckAuthRate tests and records one authentication attempt for key
// (a source address or a resolved user id, prefixed by the caller).
func (s *Screen) CheckAuthRate(key string) bool {
	if !s.authLimiter.allow(key) {
		s.emit(Event{Kind: EventRateLimited, Key: key})
		return false
	}
	return true
}

// Stats is the screen portion of the governance stats snapshot.
type Stats struct {
	ConnectionWindows int `json:"connection_windows"`
	MessageWindows    int `json:"message_windows"`
	AuthWindows       int `json:"auth_windows"`
	AbusePatterns     int `json:"abuse_patterns"`
	BlockedClients    int `json:"blocked_clients"`
}

// Snapshot returns a point-in-time Stats.
func (s *Screen) Snapshot() Stats {
	return Stats{
		ConnectionWindows: s.connLimiter.size(),
		MessageWindows:    s.msgLimiter.size(),
		AuthWindows:       s.authLimiter.size(),
		AbusePatterns:     s.patterns.Size(),
		BlockedClients:    s.blocked.Size(),
	}
}

func (s *Screen) pruneWindows() {
	s.connLimiter.prune()
	s.msgLimiter.prune()
	s.authLimiter.prune()
}

func (s *Screen) emit(event Event) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}
