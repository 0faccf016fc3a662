// Package version carries the broker release identity reported to clients.
package version

import (
	"fmt"
	"runtime"
)

// Current is the broker release version. Overridable at link time:
//
//	go build -ldflags "-X .../pkg/version.Current=1.2.3"
var Current = "0.3.0"

// Info describes the running broker build.
type Info struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information of this binary.
func Get() Info {
	return Info{
		Version:   Current,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
