package api

import (
	"net/http"

	"github.com/gatewarden/gatewarden/internal/authgate"
	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/supervisor"
)

// HandleListConnections returns a handler for GET /api/v1/connections.
// Supports optional ?state= and ?instance_id= filters.
func HandleListConnections(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		stateFilter := r.URL.Query().Get("state")
		instanceFilter := r.URL.Query().Get("instance_id")

		all := gw.Supervisor().Connections()
		filtered := all[:0]
		for _, rec := range all {
			if stateFilter != "" && rec.State.String() != stateFilter {
				continue
			}
			if instanceFilter != "" && rec.InstanceID != instanceFilter {
				continue
			}
			filtered = append(filtered, rec)
		}
		SortSlice(filtered, func(rec supervisor.ConnectionRecord) string { return rec.ClientID })
		WritePage(w, http.StatusOK, filtered, p)
	}
}

// connectionDetail joins the supervisor record with the auth context.
// Session ids are only ever exposed as digests.
type connectionDetail struct {
	supervisor.ConnectionRecord
	SessionDigest string `json:"session_digest,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
}

// HandleGetConnection returns a handler for GET /api/v1/connections/{client_id}.
func HandleGetConnection(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client_id")
		rec, ok := gw.Supervisor().Get(clientID)
		if !ok {
			writeNotFound(w, "connection not found")
			return
		}
		detail := connectionDetail{
			ConnectionRecord: rec,
			SessionDigest:    authgate.ObscureSessionID(rec.SessionID),
		}
		if authCtx, ok := gw.Context(clientID); ok {
			detail.UserID = authCtx.UserID
			detail.Username = authCtx.Username
			detail.Role = string(authCtx.Role)
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

// HandleForceCloseConnection returns a handler for
// POST /api/v1/connections/{client_id}/actions/force-close.
func HandleForceCloseConnection(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client_id")
		if _, ok := gw.Supervisor().Get(clientID); !ok {
			writeNotFound(w, "connection not found")
			return
		}
		gw.ForceDisconnect(clientID, "operator action")
		WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}
