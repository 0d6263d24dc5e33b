// Package version carries build metadata. The variables are set with
// -ldflags "-X github.com/keithlinneman/pagesite/internal/version.Version=..."
// and filled from the embedded VCS stamp when left empty.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
	BuildID   string
	GoVersion string
	VCSDirty  *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// String is the one-line form logged at startup.
func (i Info) String() string {
	s := fmt.Sprintf("%s (commit %s", i.Version, shortCommit(i.Commit))
	if i.VCSDirty != nil && *i.VCSDirty {
		s += ", dirty"
	}
	if i.BuildDate != "" {
		s += ", built " + i.BuildDate
	}
	return s + ", " + i.GoVersion + ")"
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func Get() Info {
	out := Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: GoVersion,
		VCSDirty:  VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildInfo(&out, bi)
	}
	return out
}

// applyBuildInfo fills what ldflags left unset from the module's vcs.*
// settings. An explicit VCSDirty wins.
func applyBuildInfo(out *Info, bi *debug.BuildInfo) {
	if out.GoVersion == "" {
		out.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			if out.VCSDirty != nil {
				continue
			}
			switch s.Value {
			case "true", "false":
				d := s.Value == "true"
				out.VCSDirty = &d
			}
		}
	}
}
