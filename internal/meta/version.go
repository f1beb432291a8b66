package meta

import (
	"fmt"
	"runtime"
)

// Info is the build context of a vst binary, filled in by the Go linker.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// Set with -ldflags "-X github.com/luma/velocystream/internal/meta.Version=..."
var (
	Version = "dev"

	// Build is the git sha
	Build string

	Branch string

	// BuildTimeUTC is year/month/day hour:min:sec
	BuildTimeUTC string

	// GoTag lists the build tags
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}
