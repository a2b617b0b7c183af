// Package version exposes build metadata injected at link time via
// -ldflags "-X github.com/ogcode-dev/ogcode/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for CLI output.
func String() string {
	return fmt.Sprintf("ogcode %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
