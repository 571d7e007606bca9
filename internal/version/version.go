// Package version provides the build version of the tools
package version

import "fmt"

// set by the linker:
// -X github.com/effective-security/xcryptodev/internal/version.major=1
var (
	major  = "0"
	minor  = "1"
	patch  = "0"
	commit = "dev"
)

// Info describes the build version
type Info struct {
	Major  string
	Minor  string
	Patch  string
	Commit string
}

func (v Info) String() string {
	return fmt.Sprintf("%s.%s.%s-%s", v.Major, v.Minor, v.Patch, v.Commit)
}

// Current returns the version of the build
func Current() Info {
	return Info{
		Major:  major,
		Minor:  minor,
		Patch:  patch,
		Commit: commit,
	}
}
