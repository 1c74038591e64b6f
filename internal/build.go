// Package internal holds information about the running binary.
package internal

import (
	"log/slog"
	"runtime/debug"
	"time"
)

// Build describes the VCS state the binary was built from.
type Build struct {
	Revision string
	// RevisionTime is zero when unknown.
	RevisionTime time.Time
	Modified     bool
}

// BuildInfo is read once at startup. Binaries built outside of a
// repository report "unknown" as their revision.
var BuildInfo = readBuild()

// Version is the short form of the revision, used in responses and migrations.
func (b Build) Version() string {
	v := b.Revision
	if len(v) > 12 {
		v = v[:12]
	}

	if b.Modified {
		v += "-dirty"
	}

	return v
}

// LogValue implements the slog.LogValuer interface.
func (b Build) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("revision", b.Revision),
		slog.Time("revisionTime", b.RevisionTime),
		slog.Bool("modified", b.Modified),
	)
}

func readBuild() Build {
	b := Build{Revision: "unknown"}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.time":
			// a malformed time is left zero, it is informational only.
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				b.RevisionTime = t
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}

	return b
}
