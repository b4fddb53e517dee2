// Package pipeline sequences the run: fetch, aggregate, prune, match,
// validate, publish. Stages communicate through files under the scratch
// directory, so each is independently re-runnable and a crash never leaves
// in-memory state behind.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/epgsync/epg-sync/internal/aggregate"
	"github.com/epgsync/epg-sync/internal/config"
	"github.com/epgsync/epg-sync/internal/fetch"
	"github.com/epgsync/epg-sync/internal/guide"
	"github.com/epgsync/epg-sync/internal/httpclient"
	"github.com/epgsync/epg-sync/internal/match"
	"github.com/epgsync/epg-sync/internal/playlist"
	"github.com/epgsync/epg-sync/internal/prune"
	"github.com/epgsync/epg-sync/internal/publish"
	"github.com/epgsync/epg-sync/internal/report"
	"github.com/epgsync/epg-sync/internal/validate"
)

// Paths is the scratch-directory layout. Everything is derived from the
// configured work dir so two configs with different work dirs never collide.
type Paths struct {
	Raw        string
	Manifest   string
	Master     string
	Pruned     string
	CountryMap string
	Matched    string
	Guide      string
	Reports    string
	MatchTrace string
	MatchCache string
}

// NewPaths lays out the scratch directory for cfg.
func NewPaths(cfg *config.Config) Paths {
	w := cfg.WorkDir
	p := Paths{
		Raw:        filepath.Join(w, "raw"),
		Manifest:   filepath.Join(w, "manifest.json"),
		Master:     filepath.Join(w, "master_playlist.m3u"),
		Pruned:     filepath.Join(w, "pruned.m3u"),
		CountryMap: filepath.Join(w, "channel_cc_map.json"),
		Matched:    filepath.Join(w, cfg.PlaylistOut),
		Guide:      filepath.Join(w, cfg.GuideOut),
		Reports:    filepath.Join(w, "reports"),
		MatchCache: cfg.MatchCacheFile,
	}
	p.MatchTrace = filepath.Join(p.Reports, "match_trace.log")
	if p.MatchCache == "" {
		p.MatchCache = filepath.Join(w, "match_cache.db")
	}
	return p
}

func (p Paths) report(name string) string { return filepath.Join(p.Reports, name) }

// Summary is the end-of-run breakdown rendered by the CLI.
type Summary struct {
	RunID          string
	Rows           [][]string // stage, detail
	MethodRows     [][]string // match method, entry count
	SourceRows     [][]string // source group, channel count
	PublishSkipped bool
	Channels       int
	Programmes     int
	MatchedEntries int
	UnmatchedCount int
}

// Pipeline runs the stages for one configuration.
type Pipeline struct {
	cfg    *config.Config
	paths  Paths
	logger *slog.Logger
	runID  string
}

// New builds a Pipeline with a fresh run id.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		paths:  NewPaths(cfg),
		logger: logger,
		runID:  uuid.NewString(),
	}
}

// RunID identifies this pipeline instance in logs and the summary.
func (p *Pipeline) RunID() string { return p.runID }

// Paths exposes the scratch layout, mainly for the per-stage subcommands.
func (p *Pipeline) Paths() Paths { return p.paths }

func (p *Pipeline) stageLogger(stage string) *slog.Logger {
	return p.logger.With("stage", stage, "run_id", p.runID)
}

// Fetch downloads every configured source group and writes the manifest.
func (p *Pipeline) Fetch(ctx context.Context) (*fetch.Manifest, error) {
	logger := p.stageLogger("fetch")
	groups := make([]fetch.Group, 0, len(p.cfg.Sources))
	for _, s := range p.cfg.Sources {
		groups = append(groups, fetch.Group{
			Name:     s.Name,
			Kind:     fetch.Kind(s.Kind),
			Priority: s.Priority,
			URLs:     s.URLs,
		})
	}
	f, err := fetch.New(fetch.Config{
		Dir:         p.paths.Raw,
		Concurrency: p.cfg.FetchConcurrency,
		Timeout:     p.cfg.FetchTimeout,
		Retry: httpclient.RetryPolicy{
			MaxAttempts: p.cfg.RetryAttempts,
			Backoff:     p.cfg.RetryBackoff,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	manifest, stats, err := f.FetchAll(ctx, groups)
	if err != nil {
		return nil, err
	}
	logger.Info("fetch complete", "stats", stats.String())
	if err := manifest.Save(p.paths.Manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Aggregate builds the master playlist from the saved manifest.
func (p *Pipeline) Aggregate() (*aggregate.Result, error) {
	logger := p.stageLogger("aggregate")
	manifest, err := fetch.LoadManifest(p.paths.Manifest)
	if err != nil {
		return nil, fmt.Errorf("aggregate: load manifest: %w", err)
	}
	res, err := aggregate.Aggregate(manifest, logger)
	if err != nil {
		return nil, err
	}
	if err := aggregate.WriteMaster(res, p.paths.Master); err != nil {
		return nil, err
	}
	return res, nil
}

// Prune filters the master playlist to the favourites and writes the pruned
// playlist, the country map, and the prune and source reports.
func (p *Pipeline) Prune(master []playlist.Entry) (*prune.Result, error) {
	logger := p.stageLogger("prune")

	names := append([]string(nil), p.cfg.Favourites...)
	aliases := map[string]string{}
	for k, v := range p.cfg.FavAliases {
		aliases[k] = v
	}
	if p.cfg.FavouritesFile != "" {
		fileNames, fileAliases, err := config.LoadFavourites(p.cfg.FavouritesFile)
		if err != nil {
			return nil, err
		}
		names = append(names, fileNames...)
		for k, v := range fileAliases {
			aliases[k] = v
		}
	}
	favs := prune.NewFavourites(names, aliases)

	res := prune.Prune(master, favs, logger)
	if err := playlist.WriteFile(p.paths.Pruned, res.Entries); err != nil {
		return nil, err
	}
	if err := prune.WriteCountryMap(p.paths.CountryMap, res.CountryMap); err != nil {
		return nil, err
	}
	if err := report.WritePrune(p.paths.report("prune_report.csv"), res); err != nil {
		return nil, err
	}
	if err := report.WriteSources(p.paths.report("source_report.csv"), sourceRows(res.Entries)); err != nil {
		return nil, err
	}
	return res, nil
}

func sourceRows(entries []playlist.Entry) []report.SourceRow {
	rows := make([]report.SourceRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, report.SourceRow{Name: e.Name, Source: e.SourceGroup, Host: e.Host()})
	}
	return rows
}

// MatchResult is what the match stage produces beyond the matcher's own
// result: the consolidated guide stats feed validation.
type MatchResult struct {
	Match *match.Result
	Guide guide.ConsolidateStats
}

// Match resolves pruned entries against the guide files, writes the matched
// playlist and consolidated guide, and emits the match reports.
func (p *Pipeline) Match(pruned []playlist.Entry, guideFiles []fetch.File) (*MatchResult, error) {
	logger := p.stageLogger("match")

	var channels []guide.Channel
	var guidePaths []string
	for _, gf := range guideFiles {
		chs, err := guide.ReadChannels(gf.Path, gf.Group)
		if err != nil {
			logger.Warn("skipping unreadable guide", "path", gf.Path, "error", err)
			continue
		}
		channels = append(channels, chs...)
		guidePaths = append(guidePaths, gf.Path)
	}

	aliases, err := match.LoadAliases(p.cfg.AliasesFile)
	if err != nil {
		return nil, err
	}
	var cache *match.Cache
	if p.paths.MatchCache != "off" {
		cache, err = match.OpenCache(p.paths.MatchCache)
		if err != nil {
			logger.Warn("match cache unavailable, continuing without", "error", err)
			cache = nil
		}
	}
	defer cache.Close()

	if err := os.MkdirAll(p.paths.Reports, 0o755); err != nil {
		return nil, err
	}
	trace, err := os.Create(p.paths.MatchTrace)
	if err != nil {
		return nil, err
	}
	defer trace.Close()

	m := match.New(match.Config{
		Threshold:     p.cfg.FuzzyThreshold,
		DisableFuzzy:  !p.cfg.FuzzyEnabled,
		Aliases:       aliases,
		Cache:         cache,
		GroupPriority: p.cfg.GroupPriority(),
		Trace:         trace,
		Logger:        logger,
	}, channels)
	res, err := m.Run(pruned)
	if err != nil {
		return nil, err
	}

	if err := playlist.WriteFile(p.paths.Matched, res.Entries); err != nil {
		return nil, err
	}
	if err := report.WriteMatch(p.paths.report("match_report.csv"), res.Records); err != nil {
		return nil, err
	}
	if err := report.WriteUnmatched(p.paths.report("unmatched_report.csv"), res.Records); err != nil {
		return nil, err
	}

	out := &MatchResult{Match: res}
	if len(guidePaths) > 0 && len(res.Keep) > 0 {
		horizon := time.Duration(p.cfg.GuideHorizonDays) * 24 * time.Hour
		stats, err := guide.Consolidate(guidePaths, res.Keep, horizon, p.paths.Guide)
		if err != nil {
			return nil, err
		}
		out.Guide = stats
		logger.Info("guide consolidated",
			"channels", stats.Channels,
			"programmes", stats.Programmes,
			"dropped_horizon", stats.DroppedHorizon)
	}
	return out, nil
}

var reportNames = []string{"prune_report.csv", "match_report.csv", "unmatched_report.csv", "source_report.csv"}

// artifactPaths lists the deployment set beyond the playlist and guide.
func (p *Pipeline) artifactPaths() []string {
	out := []string{p.paths.CountryMap}
	for _, name := range reportNames {
		out = append(out, p.paths.report(name))
	}
	return out
}

// Validate gates deployment on the matched artifacts.
func (p *Pipeline) Validate(mr *MatchResult) error {
	guideWanted := p.cfg.GuideWanted()
	checks := validate.Checks{
		Channels:     len(mr.Match.Entries),
		Programmes:   mr.Guide.Programmes,
		GuideWanted:  guideWanted,
		PlaylistPath: p.paths.Matched,
		GuidePath:    p.paths.Guide,
		Artifacts:    p.artifactPaths(),
		Logger:       p.stageLogger("validate"),
	}
	return validate.Run(checks)
}

// ValidateOnDisk re-derives the gate's counts from the artifacts on disk.
// The standalone publish path runs this, so a stale or half-built scratch
// directory can never overwrite a good deployment.
func (p *Pipeline) ValidateOnDisk() error {
	entries, err := playlist.ParseFile(p.paths.Matched)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", validate.ErrInvalid, p.paths.Matched, err)
	}
	guideWanted := p.cfg.GuideWanted()
	programmes := 0
	if guideWanted {
		programmes, err = guide.CountProgrammes(p.paths.Guide)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", validate.ErrInvalid, p.paths.Guide, err)
		}
	}
	checks := validate.Checks{
		Channels:     len(entries),
		Programmes:   programmes,
		GuideWanted:  guideWanted,
		PlaylistPath: p.paths.Matched,
		GuidePath:    p.paths.Guide,
		Artifacts:    p.artifactPaths(),
		Logger:       p.stageLogger("validate"),
	}
	return validate.Run(checks)
}

// Publish deploys the artifact set. A configured-but-unavailable target is a
// skip, not a failure; an empty target dir disables the stage.
func (p *Pipeline) Publish() (publish.Result, error) {
	logger := p.stageLogger("publish")
	if p.cfg.TargetDir == "" {
		logger.Info("no target dir configured, publish disabled")
		return publish.Result{Skipped: true}, nil
	}
	var set publish.Set
	set.Add(p.paths.Matched)
	if p.cfg.GuideWanted() {
		set.Add(p.paths.Guide)
	}
	for _, path := range p.artifactPaths() {
		set.Add(path)
	}
	pub := &publish.Publisher{Dir: p.cfg.TargetDir, Logger: logger}
	return pub.Run(set)
}

// Run executes the full pipeline and assembles the summary.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{RunID: p.runID}
	p.logger.Info("run starting", "run_id", p.runID)

	manifest, err := p.Fetch(ctx)
	if err != nil {
		return sum, err
	}
	sum.addRow("fetch", fmt.Sprintf("%d files", len(manifest.Files)))

	agg, err := p.Aggregate()
	if err != nil {
		return sum, err
	}
	sum.addRow("aggregate", agg.Stats.String())

	pr, err := p.Prune(agg.Entries)
	if err != nil {
		return sum, err
	}
	sum.addRow("prune", fmt.Sprintf("%d kept, %d favourites unmatched", len(pr.Entries), len(pr.ZeroMatch)))

	mr, err := p.Match(pr.Entries, agg.GuideFiles)
	if err != nil {
		return sum, err
	}
	sum.Channels = len(mr.Match.Entries)
	sum.Programmes = mr.Guide.Programmes
	sum.MatchedEntries = mr.Match.Stats.Matched
	sum.UnmatchedCount = mr.Match.Stats.Unmatched
	sum.MethodRows = mr.Match.Stats.MethodRows()
	sum.SourceRows = report.SourceCounts(sourceRows(pr.Entries))
	sum.addRow("match", mr.Match.Stats.String())

	if err := p.Validate(mr); err != nil {
		return sum, err
	}
	sum.addRow("validate", fmt.Sprintf("%d channels, %d programmes", sum.Channels, sum.Programmes))

	pubRes, err := p.Publish()
	if err != nil {
		return sum, err
	}
	sum.PublishSkipped = pubRes.Skipped
	if pubRes.Skipped {
		sum.addRow("publish", "skipped")
	} else {
		sum.addRow("publish", fmt.Sprintf("%d files, %d bytes", pubRes.Deployed, pubRes.BytesSent))
	}

	p.logger.Info("run complete", "run_id", p.runID, "publish_skipped", pubRes.Skipped)
	return sum, nil
}

func (s *Summary) addRow(stage, detail string) {
	s.Rows = append(s.Rows, []string{stage, detail})
}
