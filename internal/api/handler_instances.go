package api

import (
	"errors"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/supervisor"
)

// HandleListInstances returns a handler for GET /api/v1/instances.
func HandleListInstances(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, gw.Supervisor().Instances())
	}
}

type createInstanceRequest struct {
	ID       string  `json:"id"`
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Capacity int64   `json:"capacity"`
	Weight   float64 `json:"weight"`
}

// HandleCreateInstance returns a handler for POST /api/v1/instances.
func HandleCreateInstance(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createInstanceRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.Host == "" || req.Port <= 0 || req.Port > 65535 {
			writeInvalidArgument(w, "host and a valid port are required")
			return
		}
		err := gw.Supervisor().AddInstance(req.ID, req.Host, req.Port, req.Capacity, req.Weight)
		if err != nil {
			if errors.Is(err, supervisor.ErrDuplicateInstance) {
				WriteError(w, http.StatusConflict, "CONFLICT", err.Error())
				return
			}
			writeInvalidArgument(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
	}
}

// HandleDeleteInstance returns a handler for DELETE /api/v1/instances/{id}.
// Connections on the instance are migrated before removal.
func HandleDeleteInstance(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !gw.Supervisor().RemoveInstance(id) {
			writeNotFound(w, "instance not found")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}
