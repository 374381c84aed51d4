// Package version holds the build-time version variables for the cloudaudit
// binary. The zero values ("dev", "none", "unknown") are used for local
// builds; release builds override them with
// -ldflags "-X cloudaudit/internal/version.Version=...".
package version

import "fmt"

// Overridden via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns the formatted version string printed by cloudaudit version.
func Info() string {
	return fmt.Sprintf(
		"cloudaudit version %s\ncommit: %s\nbuilt: %s\n",
		Version,
		Commit,
		Date,
	)
}
