// Package authgate validates connection identity and authorization against
// the external session store and user directory, and enforces per-namespace
// role requirements.
package authgate

import (
	"fmt"
	"net"
	"time"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/gatewarden/gatewarden/internal/screen"
)

// Result is the outcome code of an authentication attempt.
type Result int

const (
	ResultSuccess Result = iota
	ResultInvalidSession
	ResultUserNotFound
	ResultUserInactive
	ResultInsufficientPrivileges
	ResultRateLimited
	ResultSecurityViolation
	ResultSystemError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInvalidSession:
		return "invalid_session"
	case ResultUserNotFound:
		return "user_not_found"
	case ResultUserInactive:
		return "user_inactive"
	case ResultInsufficientPrivileges:
		return "insufficient_privileges"
	case ResultRateLimited:
		return "rate_limited"
	case ResultSecurityViolation:
		return "security_violation"
	case ResultSystemError:
		return "system_error"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// AdminNamespace is the namespace requiring the admin role.
const AdminNamespace = "admin"

// SessionData is what the external session store resolves a session id to.
type SessionData struct {
	UserID               int64
	PlatformConnectionID *int64
	PlatformName         string
	PlatformType         string
}

// UserRecord is what the external user directory resolves a user id to.
type UserRecord struct {
	ID       int64
	Username string
	Email    string
	Role     string
	IsActive bool
}

// SessionStore resolves session ids. A nil result with nil error means the
// session does not exist.
type SessionStore interface {
	GetSessionData(sessionID string) (*SessionData, error)
}

// UserDirectory resolves user ids. A nil result with nil error means the
// user does not exist.
type UserDirectory interface {
	GetUser(userID int64) (*UserRecord, error)
}

// Attempt is the opaque connection-attempt bundle. The transport layer fills
// whichever sources it has; extraction precedence is payload field, then
// header, then cookie.
type Attempt struct {
	Payload    map[string]any
	Headers    map[string]string
	Cookies    map[string]string
	RemoteAddr string
	UserAgent  string
}

const (
	sessionPayloadField = "session_id"
	sessionHeader       = "X-Session-Id"
	sessionCookie       = "session_id"
)

// ExtractSessionID pulls the session identifier from an attempt, trying the
// explicit payload field, then the request header, then the cookie.
func ExtractSessionID(attempt Attempt) string {
	if v, ok := attempt.Payload[sessionPayloadField]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if s := attempt.Headers[sessionHeader]; s != "" {
		return s
	}
	return attempt.Cookies[sessionCookie]
}

// ObscureSessionID returns a short digest of a session id safe for logs.
// Full session identifiers never appear in log output.
func ObscureSessionID(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.HashString(sessionID))
}

// Event is one auth decision worth auditing.
type Event struct {
	Op            string // "authenticate" or "authorize_admin"
	Result        Result
	Namespace     string
	SessionDigest string
	SourceAddr    string
	UserID        int64
	Detail        string
}

// Config configures the Gate.
type Config struct {
	Sessions SessionStore
	Users    UserDirectory
	Screen   *screen.Screen

	// SessionCacheSize bounds the session-lookup cache; 0 uses the default.
	SessionCacheSize int
	// SessionCacheTTL is how long a resolved session may be served from
	// cache; 0 uses the default. Misses are never cached, so revocation
	// takes effect within one TTL.
	SessionCacheTTL time.Duration

	// OnEvent is called synchronously on every decision branch; handlers
	// must stay lightweight.
	OnEvent func(Event)
}

const (
	defaultSessionCacheSize = 4096
	defaultSessionCacheTTL  = 30 * time.Second
)

// Gate is the authentication/authorization gate.
type Gate struct {
	sessions SessionStore
	users    UserDirectory
	screen   *screen.Screen
	cache    otter.Cache[string, SessionData]
	onEvent  func(Event)
}

// NewGate creates a Gate from cfg.
func NewGate(cfg Config) (*Gate, error) {
	size := cfg.SessionCacheSize
	if size <= 0 {
		size = defaultSessionCacheSize
	}
	ttl := cfg.SessionCacheTTL
	if ttl <= 0 {
		ttl = defaultSessionCacheTTL
	}
	cache, err := otter.MustBuilder[string, SessionData](size).
		Cost(func(_ string, _ SessionData) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("authgate: session cache: %w", err)
	}
	return &Gate{
		sessions: cfg.Sessions,
		users:    cfg.Users,
		screen:   cfg.Screen,
		cache:    cache,
		onEvent:  cfg.OnEvent,
	}, nil
}

// Authenticate validates one connection attempt against a namespace.
// On success it returns ResultSuccess and an immutable AuthContext; on any
// failure the context is nil and the result carries the machine-readable
// reason. Every branch emits a security event.
func (g *Gate) Authenticate(attempt Attempt, namespace string) (Result, *AuthContext) {
	sourceAddr := sourceAddress(attempt)

	// Per-address limiting happens before any session work so floods from
	// one host cannot reach the session store.
	if !g.screen.CheckAuthRate("addr:" + sourceAddr) {
		return g.fail(ResultRateLimited, namespace, "", sourceAddr, 0, "source address over auth rate")
	}

	sessionID := ExtractSessionID(attempt)
	digest := ObscureSessionID(sessionID)
	if sessionID == "" {
		return g.fail(ResultInvalidSession, namespace, digest, sourceAddr, 0, "no session identifier supplied")
	}

	session, err := g.lookupSession(sessionID)
	if err != nil {
		return g.fail(ResultSystemError, namespace, digest, sourceAddr, 0, "session store unavailable")
	}
	if session == nil {
		return g.fail(ResultInvalidSession, namespace, digest, sourceAddr, 0, "session not found")
	}

	if !g.screen.CheckAuthRate(fmt.Sprintf("user:%d", session.UserID)) {
		return g.fail(ResultRateLimited, namespace, digest, sourceAddr, session.UserID, "user over auth rate")
	}

	user, err := g.users.GetUser(session.UserID)
	if err != nil {
		return g.fail(ResultSystemError, namespace, digest, sourceAddr, session.UserID, "user directory unavailable")
	}
	if user == nil {
		return g.fail(ResultUserNotFound, namespace, digest, sourceAddr, session.UserID, "user not in directory")
	}
	if !user.IsActive {
		return g.fail(ResultUserInactive, namespace, digest, sourceAddr, user.ID, "user deactivated")
	}

	role := ParseRole(user.Role)
	if namespace == AdminNamespace && role != RoleAdmin {
		return g.fail(ResultInsufficientPrivileges, namespace, digest, sourceAddr, user.ID, "admin namespace requires admin role")
	}

	ctx := &AuthContext{
		UserID:               user.ID,
		Username:             user.Username,
		Email:                user.Email,
		Role:                 role,
		SessionID:            sessionID,
		Permissions:          PermissionsForRole(role),
		IsAdmin:              role == RoleAdmin,
		PlatformConnectionID: session.PlatformConnectionID,
		PlatformName:         session.PlatformName,
		PlatformType:         session.PlatformType,
	}

	g.emit(Event{
		Op:            "authenticate",
		Result:        ResultSuccess,
		Namespace:     namespace,
		SessionDigest: digest,
		SourceAddr:    sourceAddr,
		UserID:        user.ID,
	})
	return ResultSuccess, ctx
}

// AuthorizeAdmin reports whether ctx may perform an admin action. If perm is
// non-empty that specific capability must also be present. Grant and deny
// are both logged.
func (g *Gate) AuthorizeAdmin(ctx *AuthContext, perm Permission) bool {
	granted := ctx != nil && ctx.IsAdmin && (perm == "" || ctx.HasPermission(perm))

	event := Event{
		Op:     "authorize_admin",
		Detail: string(perm),
	}
	if ctx != nil {
		event.UserID = ctx.UserID
		event.SessionDigest = ObscureSessionID(ctx.SessionID)
	}
	if granted {
		event.Result = ResultSuccess
	} else {
		event.Result = ResultInsufficientPrivileges
	}
	g.emit(event)
	return granted
}

// InvalidateSession drops any cached resolution for a session id. Called when
// the error classifier invalidates a session so stale cache entries cannot
// re-admit it.
func (g *Gate) InvalidateSession(sessionID string) {
	g.cache.Delete(sessionID)
}

func (g *Gate) lookupSession(sessionID string) (*SessionData, error) {
	if cached, ok := g.cache.Get(sessionID); ok {
		return &cached, nil
	}
	session, err := g.sessions.GetSessionData(sessionID)
	if err != nil || session == nil {
		return session, err
	}
	g.cache.Set(sessionID, *session)
	return session, nil
}

func (g *Gate) fail(result Result, namespace, digest, sourceAddr string, userID int64, detail string) (Result, *AuthContext) {
	g.emit(Event{
		Op:            "authenticate",
		Result:        result,
		Namespace:     namespace,
		SessionDigest: digest,
		SourceAddr:    sourceAddr,
		UserID:        userID,
		Detail:        detail,
	})
	return result, nil
}

func (g *Gate) emit(event Event) {
	if g.onEvent != nil {
		g.onEvent(event)
	}
}

// sourceAddress resolves the client address used for rate limiting and
// logging, stripping any port.
func sourceAddress(attempt Attempt) string {
	addr := attempt.RemoteAddr
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
