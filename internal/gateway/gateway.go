// Package gateway is the composition root of the governance core. It builds
// the auth gate, security screen, connection supervisor, and error classifier
// from one runtime config, cross-wires their event streams into metrics and
// the security log, and exposes the three transport-facing operations:
// OnConnect, OnMessage, OnDisconnect.
package gateway

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/gatewarden/gatewarden/internal/authgate"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/faults"
	"github.com/gatewarden/gatewarden/internal/geoip"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/screen"
	"github.com/gatewarden/gatewarden/internal/seclog"
	"github.com/gatewarden/gatewarden/internal/supervisor"
)

// Emitter delivers an event payload to one connected client.
type Emitter interface {
	Emit(event string, payload map[string]any, clientID string)
}

// Closer force-closes one client's transport connection.
type Closer interface {
	CloseClient(clientID, reason string)
}

// Config assembles a Gateway. Runtime must return the live config snapshot;
// it is consulted on every check so hot swaps apply immediately.
type Config struct {
	Clock   clock.Clock // nil means wall clock
	Runtime func() *config.RuntimeConfig

	Sessions authgate.SessionStore
	Users    authgate.UserDirectory

	Metrics *metrics.Collector
	SecLog  *seclog.Service // optional
	Geo     *geoip.Service  // optional

	HealthCheck supervisor.HealthCheckFunc
	Recover     supervisor.RecoverFunc

	Instances []config.InstanceSpec
}

// Gateway owns the four governance components and their shared wiring.
type Gateway struct {
	clock   clock.Clock
	runtime func() *config.RuntimeConfig

	gate       *authgate.Gate
	screen     *screen.Screen
	supervisor *supervisor.Supervisor
	classifier *faults.Classifier

	metrics *metrics.Collector
	seclog  *seclog.Service
	geo     *geoip.Service

	emitter Emitter
	closer  Closer

	contexts *xsync.Map[string, *authgate.AuthContext]
}

// New builds the Gateway and all four components. Bind must be called with
// the transport before serving traffic.
func New(cfg Config) (*Gateway, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	g := &Gateway{
		clock:    clk,
		runtime:  cfg.Runtime,
		metrics:  cfg.Metrics,
		seclog:   cfg.SecLog,
		geo:      cfg.Geo,
		contexts: xsync.NewMap[string, *authgate.AuthContext](),
	}

	rt := cfg.Runtime

	g.screen = screen.NewScreen(screen.Config{
		Clock:                clk,
		ConnectionRateLimit:  func() int { return rt().ConnectionRateLimit },
		ConnectionRateWindow: func() time.Duration { return rt().ConnectionRateWindow.Std() },
		MessageRateLimit:     func() int { return rt().MessageRateLimit },
		MessageRateWindow:    func() time.Duration { return rt().MessageRateWindow.Std() },
		AuthRateLimit:        func() int { return rt().AuthRateLimit },
		AuthRateWindow:       func() time.Duration { return rt().AuthRateWindow.Std() },
		MaxMessageBytes:      func() int { return rt().MaxMessageBytes },
		AllowedTypes:         func() []string { return rt().AllowedMessageTypes },
		BlockThreshold:       func() float64 { return rt().AbuseBlockThreshold },
		AbuseIncrement: func(t screen.AbuseType) float64 {
			c := rt()
			if inc, ok := c.AbuseIncrements[string(t)]; ok {
				return inc
			}
			return c.DefaultAbuseIncrement
		},
		OnEvent: g.onScreenEvent,
	})

	gate, err := authgate.NewGate(authgate.Config{
		Sessions: cfg.Sessions,
		Users:    cfg.Users,
		Screen:   g.screen,
		OnEvent:  g.onAuthEvent,
	})
	if err != nil {
		return nil, err
	}
	g.gate = gate

	g.supervisor = supervisor.NewSupervisor(supervisor.Config{
		Clock:               clk,
		StrategyName:        func() string { return rt().BalanceStrategy },
		IdleTimeout:         func() time.Duration { return rt().IdleTimeout.Std() },
		RecoveryMaxAttempts: func() int { return rt().RecoveryMaxAttempts },
		OverloadThreshold:   func() float64 { return rt().OverloadThreshold },
		MaintenanceInterval: rt().MaintenanceInterval.Std(),
		HealthCheck:         cfg.HealthCheck,
		Recover:             cfg.Recover,
		OnEvent:             g.onSupervisorEvent,
	})

	g.classifier = faults.NewClassifier(faults.Config{
		Clock:                      clk,
		HistorySize:                rt().ErrorHistorySize,
		TrackWindow:                func() time.Duration { return rt().ErrorTrackWindow.Std() },
		ClientDisconnectThreshold:  func() int { return rt().ClientErrorDisconnectThreshold },
		SessionInvalidateThreshold: func() int { return rt().SessionErrorInvalidateThreshold },
		Notify:                     g.notifyClient,
		CloseClient:                g.ForceDisconnect,
		InvalidateSession:          g.invalidateSession,
		OnEvent:                    g.onFaultEvent,
	})

	for _, spec := range cfg.Instances {
		if err := g.supervisor.AddInstance(spec.ID, spec.Host, spec.Port, spec.Capacity, spec.Weight); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Bind attaches the transport's notification and close channels.
func (g *Gateway) Bind(emitter Emitter, closer Closer) {
	g.emitter = emitter
	g.closer = closer
}

// Start launches the screen janitor and the supervisor maintenance loop.
func (g *Gateway) Start() {
	g.screen.Start()
	g.supervisor.Start()
}

// Stop stops the background loops and waits for them.
func (g *Gateway) Stop() {
	g.supervisor.Stop()
	g.screen.Stop()
}

// Component accessors for the admin API.

func (g *Gateway) Gate() *authgate.Gate               { return g.gate }
func (g *Gateway) Screen() *screen.Screen             { return g.screen }
func (g *Gateway) Supervisor() *supervisor.Supervisor { return g.supervisor }
func (g *Gateway) Classifier() *faults.Classifier     { return g.classifier }

// Context returns the auth context bound to a connected client.
func (g *Gateway) Context(clientID string) (*authgate.AuthContext, bool) {
	return g.contexts.Load(clientID)
}
