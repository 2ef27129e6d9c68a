// Package version reports the gateway build version. The variables are
// overridable at build time:
//
//	go build -ldflags "-X github.com/akumar23/tts-webapp/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/akumar23/tts-webapp/logger"
)

// devVersion is the default when no ldflags version was injected.
const devVersion = "dev"

// Overridable with -ldflags.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// GetVersion returns the version string, falling back to the module build
// info when no ldflags version was injected.
func GetVersion() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return devVersion
}

// vcsInfo reads the short commit hash and dirty flag from the binary's
// embedded build info. Both are empty for binaries built outside a checkout.
func vcsInfo() (commit string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value[:min(7, len(s.Value))]
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return commit, dirty
}

// GetVersionInfo returns the printable block behind the --version flag.
func GetVersionInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ttsd version %s", GetVersion())

	commit, _ := vcsInfo()
	if gitCommit != "" {
		commit = gitCommit
	}
	if commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", commit)
	}
	if buildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", buildDate)
	}
	return b.String()
}

// GetBuildInfo returns version details as structured log attributes.
func GetBuildInfo() []any {
	attrs := []any{"version", GetVersion()}

	commit, dirty := vcsInfo()
	if gitCommit != "" {
		commit, dirty = gitCommit, false
	}
	if commit != "" {
		attrs = append(attrs, "commit", commit)
	}
	if dirty {
		attrs = append(attrs, "dirty", true)
	}
	if buildDate != "" {
		attrs = append(attrs, "built", buildDate)
	}
	return attrs
}

// LogStartup emits the build details once after logger initialization. The
// debug level keeps it out of production logs.
func LogStartup() {
	logger.Debug("tts gateway starting", GetBuildInfo()...)
}
