package api

import (
	"net/http"

	"github.com/gatewarden/gatewarden/internal/gateway"
)

type blockedClient struct {
	ClientID    string `json:"client_id"`
	BlockedAtNs int64  `json:"blocked_at_ns"`
}

// HandleListBlocked returns a handler for GET /api/v1/blocked.
func HandleListBlocked(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		blocked := gw.Screen().BlockedClients()
		items := make([]blockedClient, 0, len(blocked))
		for clientID, at := range blocked {
			items = append(items, blockedClient{ClientID: clientID, BlockedAtNs: at})
		}
		SortSlice(items, func(b blockedClient) string { return b.ClientID })
		WritePage(w, http.StatusOK, items, p)
	}
}

// HandleGetAbusePatterns returns a handler for
// GET /api/v1/blocked/{client_id}/patterns.
func HandleGetAbusePatterns(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client_id")
		WriteJSON(w, http.StatusOK, gw.Screen().Patterns(clientID))
	}
}

// HandleUnblock returns a handler for
// POST /api/v1/blocked/{client_id}/actions/unblock.
func HandleUnblock(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("client_id")
		if !gw.Screen().Unblock(clientID) {
			writeNotFound(w, "client is not blocked")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
	}
}
