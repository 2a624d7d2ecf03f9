// Package buildinfo provides build version and metadata information.
package buildinfo

import "runtime/debug"

// Version metadata is injected at build time via ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Summary returns a human-readable version summary string. Without ldflags
// it falls back to the module version and VCS settings recorded by go build.
func Summary() string {
	version, commit, date := Version, Commit, Date
	if version == "" || version == "dev" || commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if (version == "" || version == "dev") && info.Main.Version != "" && info.Main.Version != "(devel)" {
				version = info.Main.Version
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					if commit == "" && len(s.Value) >= 7 {
						commit = s.Value[:7]
					}
				case "vcs.time":
					if date == "" {
						date = s.Value
					}
				}
			}
		}
	}
	if version == "" {
		version = "dev"
	}

	parts := version
	if commit != "" {
		parts += " (" + commit
		if date != "" {
			parts += " " + date
		}
		parts += ")"
	} else if date != "" {
		parts += " (" + date + ")"
	}
	return parts
}
