package api

import (
	"net/http"

	"github.com/gatewarden/gatewarden/internal/metrics"
)

// HandleNamespaceMetrics returns a handler for GET /api/v1/stats/namespaces.
func HandleNamespaceMetrics(collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, collector.NamespaceSnapshots())
	}
}
