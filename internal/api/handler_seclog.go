package api

import (
	"net/http"

	"github.com/gatewarden/gatewarden/internal/seclog"
)

// HandleListSecurityEvents returns a handler for GET /api/v1/security-events.
// Filters: kind, client_id, source_addr, namespace, after (ts_ns), before (ts_ns).
func HandleListSecurityEvents(repo *seclog.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		after, err := ParseInt64Query(r, "after")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		before, err := ParseInt64Query(r, "before")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		q := r.URL.Query()
		filter := seclog.ListFilter{
			Kind:       q.Get("kind"),
			ClientID:   q.Get("client_id"),
			SourceAddr: q.Get("source_addr"),
			Namespace:  q.Get("namespace"),
			After:      after,
			Before:     before,
		}
		// Offset pagination over a live log is approximate; the repo reads
		// newest-first up to offset+limit and the page is sliced from that.
		events, err := repo.List(filter, p.Offset+p.Limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to query security events")
			return
		}
		WritePage(w, http.StatusOK, events, p)
	}
}
