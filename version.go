package vendue

import "fmt"

// These values are overwritten at build time through ldflags, for example:
//
//	go build -ldflags "-X github.com/optionvault/vendue.Commit=$(git rev-parse --short HEAD)"
var (
	// AppVersion is the semantic version of the daemon.
	AppVersion = "0.1.0-alpha"

	// Commit is the short git commit hash the binary was built from.
	Commit = "unknown"
)

// Version returns the version string of the daemon including the commit it
// was built from.
func Version() string {
	return fmt.Sprintf("%s commit=%s", AppVersion, Commit)
}
