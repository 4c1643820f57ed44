// Package buildinfo holds release metadata set at link time, e.g.
//
//	go build -ldflags "-X github.com/aidanlsb/pbipkit/internal/buildinfo.Version=v0.3.0"
package buildinfo

// Empty in local builds; the version command falls back to module info.
var (
	Version = ""
	Commit  = ""
	Date    = ""
)
