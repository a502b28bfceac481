// Package version reports build information of relayd.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set through -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// Get returns the linked values, completed from the embedded VCS
// settings when they were not set.
func Get() Info {
	out := Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		}
	}

	return out
}

func (i Info) String() string {
	s := fmt.Sprintf("%s (commit %s", i.Version, i.Commit)
	if i.Dirty {
		s += ", dirty"
	}
	if i.BuildDate != "" {
		s += ", built " + i.BuildDate
	}
	return s + ", " + i.GoVersion + " " + i.Platform + ")"
}
