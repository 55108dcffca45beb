// Package version exposes build metadata for logging and the /health
// response, derived from the VCS info Go 1.18+ embeds automatically via
// runtime/debug.BuildInfo -- no -ldflags required.
package version

import (
	"runtime/debug"
	"sync"
)

// AppName is the application name used in version strings and logging.
const AppName = "feedbackpilot"

// Info is a snapshot of the embedded build metadata.
type Info struct {
	Commit string // short git commit hash (8 chars), or "dev" if unavailable
	Dirty  bool   // true if the build tree had uncommitted changes
}

var (
	once    sync.Once
	current Info
)

func resolve() Info {
	once.Do(func() {
		current = Info{Commit: "dev"}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value == "" {
					continue
				}
				if len(s.Value) > 8 {
					current.Commit = s.Value[:8]
				} else {
					current.Commit = s.Value
				}
			case "vcs.modified":
				current.Dirty = s.Value == "true"
			}
		}
	})
	return current
}

// Full returns "feedbackpilot/<commit>", with a "-dirty" suffix when the
// binary was built from a tree with uncommitted changes.
func Full() string {
	i := resolve()
	if i.Dirty {
		return AppName + "/" + i.Commit + "-dirty"
	}
	return AppName + "/" + i.Commit
}
