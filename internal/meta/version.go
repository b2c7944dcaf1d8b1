package meta

import (
	"fmt"
	"runtime"
	"strings"
)

// Injected at link time, for example
//
//	go build -ldflags "-X github.com/luma/dgramfs/internal/meta.Version=v1.2.0"
//
// A plain go build leaves them empty and the binary reports itself as dev.
var (
	Version      string
	Build        string // commit sha
	Branch       string
	BuildTimeUTC string
	GoTag        string // build tags, space separated
)

// Info is a snapshot of how this binary was built.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
}

// String is the one line printed by `dgramfs version` and used as the man
// page source. Fields that were not injected are left out.
func (i Info) String() string {
	version := i.Version
	if version == "" {
		version = "dev"
	}

	parts := []string{"dgramfs", version}
	for _, field := range []struct{ label, value string }{
		{"commit", i.Build},
		{"branch", i.Branch},
		{"built", i.BuildTime},
		{"tags", i.GoTag},
	} {
		if field.value != "" {
			parts = append(parts, field.label+"="+field.value)
		}
	}

	return fmt.Sprintf("%s (%s, %s)", strings.Join(parts, " "), i.Platform, i.GoVersion)
}
