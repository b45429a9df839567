// Package version carries build identification, stamped via -ldflags at
// release time.
package version

var (
	// Version is the release version string.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
