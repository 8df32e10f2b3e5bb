// Package transport adapts the governance core to a websocket endpoint.
// It upgrades inbound HTTP requests, runs the connect gate, pumps messages
// through the screen, and implements the gateway's Emitter and Closer so
// notices and forced disconnects reach the wire.
package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/gatewarden/gatewarden/internal/authgate"
	"github.com/gatewarden/gatewarden/internal/faults"
	"github.com/gatewarden/gatewarden/internal/gateway"
)

const (
	writeTimeout = 10 * time.Second
	// Read limit is a transport backstop; the screen enforces the real
	// per-message size limit.
	readLimitBytes = 1 << 20
)

// envelope is the wire format in both directions.
type envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// Server is the websocket front of the gateway.
type Server struct {
	gw       *gateway.Gateway
	upgrader websocket.Upgrader
	conns    *xsync.Map[string, *wsConn]
}

// NewServer creates the transport and binds it to the gateway.
func NewServer(gw *gateway.Gateway) *Server {
	s := &Server{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: xsync.NewMap[string, *wsConn](),
	}
	gw.Bind(s, s)
	return s
}

// Handler serves the websocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	clientID := uuid.NewString()
	namespace := r.URL.Query().Get("namespace")
	attempt := attemptFromRequest(r)

	accepted, reason := s.gw.OnConnect(clientID, attempt, namespace)
	if !accepted {
		// Rejection details stay in logs; clients get a bare 403.
		log.Printf("[transport] connect rejected from %s: %s", attempt.RemoteAddr, reason)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transport] upgrade failed for %s: %v", clientID, err)
		s.gw.OnDisconnect(clientID)
		return
	}
	ws.SetReadLimit(readLimitBytes)

	conn := &wsConn{ws: ws}
	s.conns.Store(clientID, conn)
	conn.writeJSON(envelope{Event: "connected", Data: map[string]any{"client_id": clientID}})

	s.readLoop(clientID, conn)
}

func (s *Server) readLoop(clientID string, conn *wsConn) {
	defer func() {
		s.conns.Delete(clientID)
		conn.ws.Close()
		s.gw.OnDisconnect(clientID)
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.gw.ReportFault(faults.KindConnection, err.Error(), clientID)
			}
			return
		}

		var message map[string]any
		if err := json.Unmarshal(data, &message); err != nil {
			if !s.gw.ReportFault(faults.KindProtocol, "malformed frame", clientID) {
				return
			}
			continue
		}

		if accepted, _ := s.gw.OnMessage(clientID, message, int64(len(data))); !accepted {
			// Still connected unless the classifier closed us; the notice
			// already went out through Emit.
			if _, open := s.conns.Load(clientID); !open {
				return
			}
			continue
		}

		if message["type"] == "ping" {
			conn.writeJSON(envelope{Event: "pong"})
		}
	}
}

// Emit implements gateway.Emitter.
func (s *Server) Emit(event string, payload map[string]any, clientID string) {
	conn, ok := s.conns.Load(clientID)
	if !ok {
		return
	}
	if err := conn.writeJSON(envelope{Event: event, Data: payload}); err != nil {
		log.Printf("[transport] emit %s to %s failed: %v", event, clientID, err)
	}
}

// CloseClient implements gateway.Closer. The close frame carries only a
// generic status; the reason stays in logs.
func (s *Server) CloseClient(clientID, reason string) {
	conn, ok := s.conns.LoadAndDelete(clientID)
	if !ok {
		return
	}
	log.Printf("[transport] closing %s: %s", clientID, reason)
	conn.mu.Lock()
	conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection closed"))
	conn.mu.Unlock()
	conn.ws.Close()
}

// attemptFromRequest assembles the auth attempt from the upgrade request.
// Query parameters act as the payload; headers and cookies come along so the
// gate can apply its extraction precedence.
func attemptFromRequest(r *http.Request) authgate.Attempt {
	payload := map[string]any{}
	for _, key := range []string{"session_id", "csrf_token", "user_id", "session_token"} {
		if v := r.URL.Query().Get(key); v != "" {
			payload[key] = v
		}
	}

	headers := map[string]string{}
	for _, key := range []string{"X-Session-Id", "X-Csrf-Token"} {
		if v := r.Header.Get(key); v != "" {
			headers[key] = v
		}
	}

	cookies := map[string]string{}
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	return authgate.Attempt{
		Payload:    payload,
		Headers:    headers,
		Cookies:    cookies,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}
