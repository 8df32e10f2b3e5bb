// Package buildinfo carries build-time identification injected via ldflags.
package buildinfo

// Set at build time:
//
//	go build -ldflags "-X .../internal/buildinfo.Version=v1.2.3 ..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the system-info payload served by the admin API.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}
