// Package version reports build information injected with -ldflags.
package version

import "runtime/debug"

// Set at build time:
//
//	-ldflags "-X github.com/rshade/epsscache/pkg/version.version=v1.2.3 -X ...commit=abc123"
//
//nolint:gochecknoglobals // ldflags targets
var (
	version = ""
	commit  = ""
)

const devVersion = "dev"

// GetVersion returns the release version, the module version recorded by
// `go install`, or "dev".
func GetVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return devVersion
}

// GetCommit returns the VCS revision the binary was built from, or "".
func GetCommit() string {
	if commit != "" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

// String returns the version with the short commit, if known.
func String() string {
	c := GetCommit()
	if len(c) > 7 {
		c = c[:7]
	}
	if c == "" {
		return GetVersion()
	}
	return GetVersion() + " (" + c + ")"
}
