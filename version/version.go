package version

import "fmt"

// overridden at build time via -ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "local"
)

var FullVersion = fmt.Sprintf("%s (commit %s, built %s by %s)",
	Version, Commit, Date, BuiltBy)
