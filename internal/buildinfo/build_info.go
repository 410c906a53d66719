package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Version, CommitHash and BuildDate are set at link time with -ldflags "-X".
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// BuildInfo holds all sorts of information about the build of an executable artifact.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// Get returns the build info of the running binary. The commit falls back to the VCS revision
// recorded by the Go toolchain when it was not set at link time.
func Get() BuildInfo {
	i := BuildInfo{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate}
	if i.CommitHash != "unknown" {
		return i
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				i.CommitHash = s.Value
			case "vcs.time":
				i.BuildDate = s.Value
			}
		}
	}
	return i
}

// String returns the build into as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
