package version

import "fmt"

var (
	// Version is set at build time with -ldflags.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build information for --version and /api/config.
func String() string {
	return fmt.Sprintf("scanmesh %s (%s, built %s)", Version, GitSHA, BuildTime)
}
