package api

import (
	"net/http"
	"runtime"
	"sync/atomic"

	"github.com/gatewarden/gatewarden/internal/buildinfo"
	"github.com/gatewarden/gatewarden/internal/config"
)

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo() http.HandlerFunc {
	info := buildinfo.Info{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		GoVersion: runtime.Version(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleSystemConfig returns a handler for GET /api/v1/system/config.
func HandleSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, runtimeCfg.Load())
	}
}

// HandleSystemDefaultConfig returns a handler for GET /api/v1/system/config/default.
func HandleSystemDefaultConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, config.NewDefaultRuntimeConfig())
	}
}

// HandlePatchSystemConfig returns a handler for PATCH /api/v1/system/config.
// The body is a partial RuntimeConfig merged over the current snapshot; the
// merged result must validate before it is swapped in.
func HandlePatchSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Merge by decoding over a deep copy: absent fields keep current
		// values, and the live config is never written in place. A shallow
		// copy would alias the map and slice fields, so a rejected patch
		// could still corrupt the running configuration.
		merged := runtimeCfg.Load().Clone()
		if err := DecodeBody(r, merged); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if err := merged.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		runtimeCfg.Store(merged)
		WriteJSON(w, http.StatusOK, merged)
	}
}
