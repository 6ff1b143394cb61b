// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/docrelay/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/docrelay/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/docrelay/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/...
package version

import "fmt"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}

// Banner returns the one-line banner a binary prints for -version.
func Banner(binary string) string {
	return binary + " " + String()
}
