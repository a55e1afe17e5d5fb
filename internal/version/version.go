// Package version carries build metadata stamped in by the linker.
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name used in banners and client identifiers.
const Name = "loadstone"

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/loadstone/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/loadstone/internal/version.Commit=abc123
//	  -X github.com/soyeahso/loadstone/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s/%s)",
		Name, Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies loadstone to remote servers, e.g. "loadstone/1.0.0".
func UserAgent() string {
	return Name + "/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
