package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/epgsync/epg-sync/internal/config"
	"github.com/epgsync/epg-sync/internal/fetch"
	"github.com/epgsync/epg-sync/internal/pipeline"
	"github.com/epgsync/epg-sync/internal/playlist"
	"github.com/epgsync/epg-sync/internal/report"
)

// withRunLock serializes pipeline invocations through a lock file in the
// scratch dir. Overlapping scheduled runs are expected; the loser reports
// and exits clean rather than corrupting shared scratch files.
func withRunLock(cfg *config.Config, fn func() error) error {
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(cfg.WorkDir, ".epg-sync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("run lock: %w", err)
	}
	if !locked {
		fmt.Fprintln(os.Stderr, "another epg-sync run holds the lock, exiting")
		return nil
	}
	defer lock.Unlock()
	return fn()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: fetch, aggregate, prune, match, validate, publish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				ctx, cancel := signalContext()
				defer cancel()

				p := pipeline.New(cfg, logger)
				sum, err := p.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Println(report.Table(
					[]string{"Stage", "Result"},
					sum.Rows,
					[]report.ColumnAlignment{report.AlignLeft, report.AlignLeft},
				))
				if len(sum.MethodRows) > 0 {
					fmt.Println(report.Table(
						[]string{"Method", "Entries"},
						sum.MethodRows,
						[]report.ColumnAlignment{report.AlignLeft, report.AlignRight},
					))
				}
				if len(sum.SourceRows) > 0 {
					fmt.Println(report.Table(
						[]string{"Source", "Channels"},
						sum.SourceRows,
						[]report.ColumnAlignment{report.AlignLeft, report.AlignRight},
					))
				}
				fmt.Printf("run %s: %d channels (%d matched, %d unmatched), %d programmes\n",
					sum.RunID, sum.Channels, sum.MatchedEntries, sum.UnmatchedCount, sum.Programmes)
				return nil
			})
		},
	}
}

func newFetchCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download every configured source group and write the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				ctx, cancel := signalContext()
				defer cancel()
				manifest, err := pipeline.New(cfg, logger).Fetch(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("fetched %d files\n", len(manifest.Files))
				return nil
			})
		},
	}
}

func newAggregateCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Build the master playlist from the latest fetch manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				res, err := pipeline.New(cfg, logger).Aggregate()
				if err != nil {
					return err
				}
				fmt.Println(res.Stats.String())
				return nil
			})
		},
	}
}

func newPruneCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Filter the master playlist down to the favourites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				p := pipeline.New(cfg, logger)
				master, err := playlist.ParseFile(p.Paths().Master)
				if err != nil {
					return fmt.Errorf("prune: read master playlist: %w", err)
				}
				res, err := p.Prune(master)
				if err != nil {
					return err
				}
				fmt.Printf("kept %d channels, %d favourites unmatched\n", len(res.Entries), len(res.ZeroMatch))
				return nil
			})
		},
	}
}

func newMatchCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Match pruned channels against the guides and build the matched artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				p := pipeline.New(cfg, logger)
				pruned, err := playlist.ParseFile(p.Paths().Pruned)
				if err != nil {
					return fmt.Errorf("match: read pruned playlist: %w", err)
				}
				manifest, err := fetch.LoadManifest(p.Paths().Manifest)
				if err != nil {
					return fmt.Errorf("match: load manifest: %w", err)
				}
				res, err := p.Match(pruned, manifest.ByKind(fetch.KindGuide))
				if err != nil {
					return err
				}
				fmt.Println(res.Match.Stats.String())
				if rows := res.Match.Stats.MethodRows(); len(rows) > 0 {
					fmt.Println(report.Table(
						[]string{"Method", "Entries"},
						rows,
						[]report.ColumnAlignment{report.AlignLeft, report.AlignRight},
					))
				}
				return nil
			})
		},
	}
}

func newPublishCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Deploy the validated artifact set to the target directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				p := pipeline.New(cfg, logger)
				if err := p.ValidateOnDisk(); err != nil {
					return err
				}
				res, err := p.Publish()
				if err != nil {
					return err
				}
				if res.Skipped {
					fmt.Println("publish skipped")
					return nil
				}
				fmt.Printf("published %d files (%d bytes)\n", res.Deployed, res.BytesSent)
				return nil
			})
		},
	}
}
