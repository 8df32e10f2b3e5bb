package api

import (
	"net/http"
	"strconv"

	"github.com/gatewarden/gatewarden/internal/gateway"
)

// HandleListRecentErrors returns a handler for GET /api/v1/errors/recent.
func HandleListRecentErrors(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeInvalidArgument(w, "limit: must be a non-negative integer")
				return
			}
			if n > 0 {
				limit = n
			}
		}
		WriteJSON(w, http.StatusOK, gw.Classifier().Recent(limit))
	}
}

// HandleStats returns a handler for GET /api/v1/stats.
func HandleStats(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, gw.Stats())
	}
}
