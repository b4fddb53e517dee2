// Package validate gates deployment. It runs after matching and before
// publishing; a failure here means the pipeline produced artifacts that
// would break the playback client, so the run aborts and the previously
// deployed files stay live.
package validate

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrInvalid wraps every gate failure so callers can map it to the
// validation exit code.
var ErrInvalid = errors.New("validate: artifacts failed validation")

// Minimum plausible artifact sizes. A playlist below the floor is a bare
// header; a guide below it is an empty <tv> document; a report or map below
// it lost even its header row.
const (
	MinPlaylistBytes = 16
	MinGuideBytes    = 64
	MinArtifactBytes = 8
)

// Checks is what the gate verifies. Counts come from the pipeline stages so
// the gate never re-parses artifacts it can check by count.
type Checks struct {
	Channels     int    // entries in the matched playlist
	Programmes   int    // programmes in the consolidated guide
	GuideWanted  bool   // a guide was requested this run
	PlaylistPath string // matched playlist on disk
	GuidePath    string // consolidated guide on disk, empty when not wanted

	// Artifacts are the remaining files of the deployment set (country map,
	// reports); each must clear the minimal-sanity size floor.
	Artifacts []string

	Logger *slog.Logger
}

// Run applies every check and returns ErrInvalid (wrapped, with counts) on
// the first violation.
func Run(c Checks) error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: playlist has %d channels", ErrInvalid, c.Channels)
	}
	if c.GuideWanted && c.Programmes <= 0 {
		return fmt.Errorf("%w: guide has %d programmes for %d channels", ErrInvalid, c.Programmes, c.Channels)
	}
	if err := minSize(c.PlaylistPath, MinPlaylistBytes); err != nil {
		return err
	}
	if c.GuideWanted {
		if err := minSize(c.GuidePath, MinGuideBytes); err != nil {
			return err
		}
	}
	for _, path := range c.Artifacts {
		if err := minSize(path, MinArtifactBytes); err != nil {
			return err
		}
	}
	c.Logger.Info("validation passed",
		"channels", c.Channels,
		"programmes", c.Programmes)
	return nil
}

func minSize(path string, min int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if fi.Size() < min {
		return fmt.Errorf("%w: %s is %d bytes, need at least %d", ErrInvalid, path, fi.Size(), min)
	}
	return nil
}
