// Package version holds build-time identifiers, overridden via -ldflags
// "-X github.com/bczopp/edda/internal/version.Version=... -X .../Commit=...".
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
