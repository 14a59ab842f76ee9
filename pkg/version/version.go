package version

import (
	"fmt"
	"runtime"
)

// Version represents the current version of liblift.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// LibliftVersion is the current version of liblift.
var LibliftVersion = Version{
	Major: "0", Minor: "9", Patch: "2", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go version liblift was compiled with.
func BuildInfo() string {
	return runtime.Version()
}
