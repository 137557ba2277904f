// Package version holds build metadata for quota-relay, set via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "none"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String returns formatted version information.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
