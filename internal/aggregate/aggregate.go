// Package aggregate merges raw per-group downloads into the master playlist
// and the ordered guide input list. Priority order is already fixed by the
// fetch manifest; aggregation only has to preserve it.
package aggregate

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/epgsync/epg-sync/internal/fetch"
	"github.com/epgsync/epg-sync/internal/playlist"
)

// ErrNoInputs means every input file for every source group was missing or
// empty. There is nothing to merge; the pipeline must halt.
var ErrNoInputs = errors.New("aggregate: no usable inputs")

// Stats counts what the merge saw.
type Stats struct {
	PlaylistFiles int
	GuideFiles    int
	Entries       int
	Collisions    int // identity collisions dropped in favour of higher priority
}

func (s Stats) String() string {
	return fmt.Sprintf("playlists=%d guides=%d entries=%d collisions=%d",
		s.PlaylistFiles, s.GuideFiles, s.Entries, s.Collisions)
}

// Result is the aggregated run input for the downstream stages.
type Result struct {
	// Entries is the master playlist: source-group priority order, exactly
	// one entry per (normalized name, stream URL) identity.
	Entries []playlist.Entry

	// GuideFiles are the usable guide downloads in priority order. Guides
	// are not deduplicated here: a channel-id collision across providers is
	// the same physical channel, and the matcher resolves it.
	GuideFiles []fetch.File

	Stats Stats
}

// Aggregate builds the master playlist from the manifest's playlist files
// and collects the usable guide files. Unreadable or empty files are logged
// and skipped; only a completely empty input set is fatal.
func Aggregate(manifest *fetch.Manifest, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{}
	seen := make(map[string]string) // identity -> source group that owns it

	for _, file := range manifest.ByKind(fetch.KindPlaylist) {
		entries, err := playlist.ParseFile(file.Path)
		if err != nil {
			logger.Warn("skipping unreadable playlist", "group", file.Group, "path", file.Path, "error", err)
			continue
		}
		if len(entries) == 0 {
			logger.Warn("skipping empty playlist", "group", file.Group, "path", file.Path)
			continue
		}
		res.Stats.PlaylistFiles++
		for _, e := range entries {
			e.SourceGroup = file.Group
			id := e.Identity()
			if owner, dup := seen[id]; dup {
				// First occurrence came from an equal or higher priority
				// group; the later one loses.
				logger.Debug("identity collision", "name", e.Name, "kept_group", owner, "dropped_group", file.Group)
				res.Stats.Collisions++
				continue
			}
			seen[id] = file.Group
			res.Entries = append(res.Entries, e)
		}
	}
	res.Stats.Entries = len(res.Entries)

	for _, file := range manifest.ByKind(fetch.KindGuide) {
		info, err := os.Stat(file.Path)
		if err != nil || info.Size() == 0 {
			logger.Warn("skipping unusable guide file", "group", file.Group, "path", file.Path)
			continue
		}
		res.GuideFiles = append(res.GuideFiles, file)
		res.Stats.GuideFiles++
	}

	if res.Stats.PlaylistFiles == 0 && res.Stats.GuideFiles == 0 {
		return nil, ErrNoInputs
	}
	return res, nil
}

// WriteMaster writes the master playlist artifact. Running the aggregator
// twice over the same manifest yields byte-identical output.
func WriteMaster(res *Result, path string) error {
	return playlist.WriteFile(path, res.Entries)
}
