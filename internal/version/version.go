// Package version holds build metadata injected through -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = ""
)

// Full returns a one-line description of the running build.
func Full() string {
	s := fmt.Sprintf("glyphrec %s, commit %s, built at %s", Version, Commit, Date)
	if BuiltBy != "" {
		s += " by " + BuiltBy
	}
	return s
}
