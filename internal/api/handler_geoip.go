package api

import (
	"net/http"

	"github.com/gatewarden/gatewarden/internal/geoip"
)

// HandleGeoIPLookup returns a handler for GET /api/v1/geoip/lookup?addr=.
func HandleGeoIPLookup(geo *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("addr")
		if addr == "" {
			writeInvalidArgument(w, "addr query parameter is required")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"addr":    addr,
			"country": geo.Lookup(addr),
		})
	}
}

// HandleGeoIPReload returns a handler for POST /api/v1/geoip/actions/reload.
func HandleGeoIPReload(geo *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := geo.Reload(); err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}
