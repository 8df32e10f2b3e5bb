package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/geoip"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/seclog"
)

// Server wraps the HTTP server and mux for the admin API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the admin API server wired with all routes.
// seclogRepo and geo may be nil when those subsystems are disabled.
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	apiMaxBodyBytes int64,
	runtimeCfg *atomic.Pointer[config.RuntimeConfig],
	gw *gateway.Gateway,
	collector *metrics.Collector,
	seclogRepo *seclog.Repo,
	geo *geoip.Service,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo())
	authed.Handle("GET /api/v1/system/config", HandleSystemConfig(runtimeCfg))
	authed.Handle("GET /api/v1/system/config/default", HandleSystemDefaultConfig())
	authed.Handle("PATCH /api/v1/system/config", HandlePatchSystemConfig(runtimeCfg))

	authed.Handle("GET /api/v1/stats", HandleStats(gw))
	authed.Handle("GET /api/v1/stats/namespaces", HandleNamespaceMetrics(collector))

	// Connections.
	authed.Handle("GET /api/v1/connections", HandleListConnections(gw))
	authed.Handle("GET /api/v1/connections/{client_id}", HandleGetConnection(gw))
	authed.Handle("POST /api/v1/connections/{client_id}/actions/force-close", HandleForceCloseConnection(gw))

	// Instances.
	authed.Handle("GET /api/v1/instances", HandleListInstances(gw))
	authed.Handle("POST /api/v1/instances", HandleCreateInstance(gw))
	authed.Handle("DELETE /api/v1/instances/{id}", HandleDeleteInstance(gw))

	// Blocked clients and abuse patterns.
	authed.Handle("GET /api/v1/blocked", HandleListBlocked(gw))
	authed.Handle("GET /api/v1/blocked/{client_id}/patterns", HandleGetAbusePatterns(gw))
	authed.Handle("POST /api/v1/blocked/{client_id}/actions/unblock", HandleUnblock(gw))

	// Error history.
	authed.Handle("GET /api/v1/errors/recent", HandleListRecentErrors(gw))

	// Security event log.
	if seclogRepo != nil {
		authed.Handle("GET /api/v1/security-events", HandleListSecurityEvents(seclogRepo))
	}

	// GeoIP.
	if geo != nil {
		authed.Handle("GET /api/v1/geoip/lookup", HandleGeoIPLookup(geo))
		authed.Handle("POST /api/v1/geoip/actions/reload", HandleGeoIPReload(geo))
	}

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
