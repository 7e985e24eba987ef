package version

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
)

// Build metadata. Override with
// -ldflags "-X github.com/lingosub/internal/version.Version=v1.2.3 -X github.com/lingosub/internal/version.Commit=abc1234".
// Commit and Date fall back to the VCS stamp the Go toolchain embeds.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// Get returns the build info of the running binary.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(bi)
}

func resolve(bi *debug.BuildInfo) Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi == nil {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	return info
}

// String renders the info as a single line, e.g. "v1.2.0 (abc123def456, 2026-01-02T03:04:05Z)".
func (i Info) String() string {
	var meta []string
	if i.Commit != "" {
		c := i.Commit
		if i.Dirty {
			c += "-dirty"
		}
		meta = append(meta, c)
	}
	if i.Date != "" {
		meta = append(meta, i.Date)
	}
	if len(meta) == 0 {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, strings.Join(meta, ", "))
}

const (
	separator = "────────────────────────────────────────────────────────────"
	banner    = `
  _ _                                 _
 | (_)_ __   __ _  ___  ___ _   _| |__
 | | | '_ \ / _' |/ _ \/ __| | | | '_ \
 | | | | | | (_| | (_) \__ \ |_| | |_) |
 |_|_|_| |_|\__, |\___/|___/\__,_|_.__/
            |___/
`
)

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the decorated banner and build info to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	info := Get()
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, Banner())
	fmt.Fprintf(w, "\n  lingosub %s\n", info)
	fmt.Fprintf(w, "  Bilingual Subtitle Service\n")
	if info.GoVersion != "" {
		fmt.Fprintf(w, "  built with %s\n", info.GoVersion)
	}
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
}
