// Package fetch downloads every source group's URLs into the scratch
// directory. A failing URL never aborts its group or the run: it is logged,
// counted and skipped, and downstream stages work with whatever arrived.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/epgsync/epg-sync/internal/httpclient"
)

// Kind distinguishes playlist sources from guide sources.
type Kind string

const (
	KindPlaylist Kind = "playlist"
	KindGuide    Kind = "guide"
)

// Group is a named, prioritized set of upstream URLs for one kind of
// content. Lower Priority wins at merge time. Immutable during a run.
type Group struct {
	Name     string
	Kind     Kind
	Priority int
	URLs     []string
}

// Config drives a Fetcher. Zero values are replaced with defaults by New.
type Config struct {
	// Dir is the raw-download scratch directory.
	Dir string

	// Concurrency bounds parallel downloads within a group. Default: 4.
	Concurrency int

	// Retry bounds per-URL attempts. Zero value uses DefaultRetryPolicy.
	Retry httpclient.RetryPolicy

	// Timeout is the per-fetch HTTP timeout. Default: 60s.
	Timeout time.Duration

	// Client may be nil to use the shared tuned client.
	Client *http.Client

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = httpclient.DefaultRetryPolicy
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Client == nil {
		c.Client = httpclient.WithTimeout(c.Timeout)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats counts per-run fetch outcomes.
type Stats struct {
	Attempted int
	Fetched   int
	Failed    int
	EmptyBody int // zero-byte responses, treated as failures
}

func (s Stats) String() string {
	return fmt.Sprintf("fetched=%d/%d failed=%d empty=%d", s.Fetched, s.Attempted, s.Failed, s.EmptyBody)
}

type Fetcher struct {
	cfg Config
}

func New(cfg Config) (*Fetcher, error) {
	cfg.applyDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("fetch: Config.Dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return &Fetcher{cfg: cfg}, nil
}

// FetchAll downloads every group in priority order and returns a manifest of
// the files that actually arrived, in deterministic (priority, url-index)
// order. A group with zero successes yields a warning, not an error; the
// aggregator decides whether the overall input set is usable.
func (f *Fetcher) FetchAll(ctx context.Context, groups []Group) (*Manifest, Stats, error) {
	ordered := make([]Group, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	manifest := &Manifest{FetchedAt: time.Now().UTC()}
	var total Stats
	for _, g := range ordered {
		files, stats := f.fetchGroup(ctx, g)
		total.Attempted += stats.Attempted
		total.Fetched += stats.Fetched
		total.Failed += stats.Failed
		total.EmptyBody += stats.EmptyBody
		if stats.Fetched == 0 {
			f.cfg.Logger.Warn("source group yielded no files", "group", g.Name, "urls", len(g.URLs))
		}
		manifest.Files = append(manifest.Files, files...)
		if err := ctx.Err(); err != nil {
			return nil, total, err
		}
	}
	return manifest, total, nil
}

// fetchGroup removes the group's files from a previous run, then downloads
// each URL with a bounded worker pool. Output slots are indexed by URL
// position so completion order never affects the manifest.
func (f *Fetcher) fetchGroup(ctx context.Context, g Group) ([]File, Stats) {
	f.cleanStale(g.Name)

	type slot struct {
		file File
		ok   bool
	}
	slots := make([]slot, len(g.URLs))
	sem := make(chan struct{}, f.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var stats Stats
	stats.Attempted = len(g.URLs)

	for i, rawURL := range g.URLs {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dest := filepath.Join(f.cfg.Dir, fileName(g.Name, i, rawURL))
			n, err := f.download(ctx, rawURL, dest)
			if err != nil {
				f.cfg.Logger.Warn("fetch failed", "group", g.Name, "url", rawURL, "error", err)
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				return
			}
			if n == 0 {
				// An empty body is a provider hiccup, not a valid list.
				os.Remove(dest)
				f.cfg.Logger.Warn("fetch returned empty body", "group", g.Name, "url", rawURL)
				mu.Lock()
				stats.Failed++
				stats.EmptyBody++
				mu.Unlock()
				return
			}
			f.cfg.Logger.Info("fetched", "group", g.Name, "url", rawURL, "bytes", n)
			mu.Lock()
			stats.Fetched++
			mu.Unlock()
			slots[i] = slot{ok: true, file: File{
				Group:    g.Name,
				Kind:     g.Kind,
				Priority: g.Priority,
				URL:      rawURL,
				Path:     dest,
			}}
		}(i, rawURL)
	}
	wg.Wait()

	files := make([]File, 0, len(slots))
	for _, s := range slots {
		if s.ok {
			files = append(files, s.file)
		}
	}
	return files, stats
}

// download streams rawURL to dest via a temp name so an interrupted run
// never leaves a truncated file behind under the group prefix.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) (int64, error) {
	resp, err := httpclient.GetWithRetry(ctx, f.cfg.Client, rawURL, f.cfg.Retry)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(f.cfg.Dir, ".download-*.tmp")
	if err != nil {
		return 0, err
	}
	name := tmp.Name()
	n, werr := io.Copy(tmp, resp.Body)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return 0, werr
		}
		return 0, cerr
	}
	if err := os.Rename(name, dest); err != nil {
		os.Remove(name)
		return 0, err
	}
	return n, nil
}

// cleanStale removes files left under the group's prefix by earlier runs so
// a shrunken URL list cannot leave ghost inputs behind. The pattern pins the
// numeric index so a group whose name prefixes another ("uk" vs "uk_extra")
// never removes the other group's files.
func (f *Fetcher) cleanStale(group string) {
	matches, err := filepath.Glob(filepath.Join(f.cfg.Dir, group+"_[0-9][0-9]_*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			f.cfg.Logger.Warn("could not remove stale file", "path", m, "error", err)
		}
	}
}

// fileName builds "<group>_<nn>_<base>" where base comes from the URL path.
func fileName(group string, index int, rawURL string) string {
	base := "source"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = sanitize(b)
		}
	}
	return fmt.Sprintf("%s_%02d_%s", group, index, base)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
