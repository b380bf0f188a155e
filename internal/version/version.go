// Package version holds build-time identifiers set via -ldflags.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
