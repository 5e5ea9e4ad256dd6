package version

import "fmt"

const (
	Major = 0
	Minor = 1
	Patch = 0
)

// Commit is stamped at build time with -ldflags "-X .../internal/version.Commit=<sha>".
var Commit = "dev"

func Short() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}

func String() string {
	if Commit == "" || Commit == "dev" {
		return Short() + "-dev"
	}
	if len(Commit) > 7 {
		return Short() + "+" + Commit[:7]
	}
	return Short() + "+" + Commit
}
