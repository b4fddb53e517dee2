// Package match resolves playlist channels to guide channel ids. Matching is
// tiered: manual alias overrides, then the persisted cache, then exact and
// compact provider-id lookups, then unique normalized-name hits, then scored
// fuzzy fallback. A playlist entry is never dropped; an unresolved entry is
// reported as unmatched and passes through with its tvg-id untouched.
package match

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/epgsync/epg-sync/internal/guide"
	"github.com/epgsync/epg-sync/internal/playlist"
	"github.com/epgsync/epg-sync/internal/textnorm"
)

// Match methods, in tier order.
const (
	MethodAlias     = "alias"
	MethodCache     = "cache"
	MethodIDExact   = "id_exact"
	MethodIDCompact = "id_compact"
	MethodNameExact = "name_exact"
	MethodFuzzy     = "fuzzy"
	MethodUnmatched = "unmatched"
)

// Tier confidences. Fuzzy confidence is 0.80 plus a small bonus that grows
// with the score above the threshold, capped so fuzzy never outranks an
// exact-name hit.
const (
	confExact     = 1.0
	confIDCompact = 0.97
	confNameExact = 0.92
	confFuzzyBase = 0.80
	confFuzzyCap  = 0.10
)

// DefaultThreshold is the minimum fuzzy score considered a match.
const DefaultThreshold = 0.60

// Config controls a Matcher. Zero values get sensible defaults from
// applyDefaults.
type Config struct {
	// Threshold is the minimum fuzzy score for a match; also the minimum
	// confidence at which the playlist tvg-id is rewritten.
	Threshold float64
	// DisableFuzzy turns the scored fallback tier off; entries that reach
	// it are reported unmatched instead.
	DisableFuzzy bool
	// Scorer rates name similarity for the fuzzy tier.
	Scorer Scorer
	// Aliases are manual overrides, consulted before every automatic tier.
	Aliases *AliasOverrides
	// Cache persists prior decisions across runs. Optional.
	Cache *Cache
	// GroupPriority ranks guide source groups; lower rank wins ties. Groups
	// absent from the map sort after every ranked group.
	GroupPriority map[string]int
	// Trace, when set, receives a [MATCH] line per playlist entry.
	Trace io.Writer

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Scorer == nil {
		c.Scorer = TokenSetScorer{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Record is the outcome for one playlist entry.
type Record struct {
	Name       string
	TvgID      string // provider id before matching
	TvgName    string
	Group      string
	URL        string
	Method     string
	GuideID    string // resolved id, empty when unmatched
	GuideGroup string // source group of the matched guide channel
	Confidence float64
}

// Matched reports whether the record resolved to a guide channel.
func (r Record) Matched() bool { return r.Method != MethodUnmatched }

// Stats summarizes a matching run.
type Stats struct {
	Entries   int
	Matched   int
	Unmatched int
	ByMethod  map[string]int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d entries, %d matched, %d unmatched", s.Entries, s.Matched, s.Unmatched)
}

// Result carries everything downstream stages need: the rewritten playlist,
// the per-entry records, and the keep map for guide consolidation.
type Result struct {
	Entries []playlist.Entry
	Records []Record
	// Keep maps guide channel id → output id for guide.Consolidate. The
	// output id is the resolved guide id itself; entries rewrite to it.
	Keep  map[string]string
	Stats Stats
}

type candidate struct {
	ch    guide.Channel
	rank  int      // guide source-group priority, lower wins
	ord   int      // first-seen position, final tie-break
	names []string // normalized display names
}

// Matcher holds the guide index for one run.
type Matcher struct {
	cfg       Config
	cands     []*candidate
	byID      map[string]*candidate   // lowercased id, first seen wins
	byCompact map[string][]*candidate // compacted id
	byName    map[string][]*candidate // normalized display name
}

// New builds a Matcher over the guide channels. Channels should be supplied
// in aggregation order; the first channel to claim an id owns it, matching
// how consolidation resolves the same collision.
func New(cfg Config, channels []guide.Channel) *Matcher {
	cfg.applyDefaults()
	m := &Matcher{
		cfg:       cfg,
		byID:      make(map[string]*candidate, len(channels)),
		byCompact: make(map[string][]*candidate),
		byName:    make(map[string][]*candidate),
	}
	for i, ch := range channels {
		c := &candidate{ch: ch, rank: m.rankOf(ch.SourceGroup), ord: i}
		idKey := strings.ToLower(strings.TrimSpace(ch.ID))
		if idKey == "" {
			continue
		}
		if _, taken := m.byID[idKey]; taken {
			continue
		}
		m.byID[idKey] = c
		m.cands = append(m.cands, c)
		if ck := textnorm.Compact(ch.ID); ck != "" {
			m.byCompact[ck] = append(m.byCompact[ck], c)
		}
		seen := map[string]bool{}
		for _, dn := range ch.DisplayNames {
			n := textnorm.Normalize(dn)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			c.names = append(c.names, n)
			m.byName[n] = append(m.byName[n], c)
		}
	}
	return m
}

func (m *Matcher) rankOf(group string) int {
	if r, ok := m.cfg.GroupPriority[group]; ok {
		return r
	}
	return 1 << 30
}

// Channels reports how many guide channels are indexed.
func (m *Matcher) Channels() int { return len(m.cands) }

// Run matches every entry and returns the rewritten playlist plus records.
// The tvg-id is rewritten only when confidence reaches the threshold; lower
// confidence matches still count toward the keep map so their programmes
// survive, keyed to the id the entry will carry.
func (m *Matcher) Run(entries []playlist.Entry) (*Result, error) {
	res := &Result{
		Entries: make([]playlist.Entry, 0, len(entries)),
		Records: make([]Record, 0, len(entries)),
		Keep:    make(map[string]string),
		Stats:   Stats{ByMethod: make(map[string]int)},
	}
	for _, e := range entries {
		rec := m.matchOne(e)
		res.Stats.Entries++
		res.Stats.ByMethod[rec.Method]++
		out := e
		if rec.Matched() {
			res.Stats.Matched++
			if rec.Confidence >= m.cfg.Threshold {
				out.Extinf = playlist.SetAttr(e.Extinf, "tvg-id", rec.GuideID)
				out.TvgID = rec.GuideID
			}
			res.Keep[rec.GuideID] = rec.GuideID
			m.store(rec)
		} else {
			res.Stats.Unmatched++
		}
		m.trace(rec)
		res.Entries = append(res.Entries, out)
		res.Records = append(res.Records, rec)
	}
	m.cfg.Logger.Info("matching complete",
		"entries", res.Stats.Entries,
		"matched", res.Stats.Matched,
		"unmatched", res.Stats.Unmatched)
	return res, nil
}

func (m *Matcher) matchOne(e playlist.Entry) Record {
	rec := Record{
		Name:    e.Name,
		TvgID:   e.TvgID,
		TvgName: e.TvgName,
		Group:   e.Group,
		URL:     e.URL,
		Method:  MethodUnmatched,
	}

	if id, ok := m.cfg.Aliases.Lookup(e.Name, e.TvgID); ok {
		rec.Method = MethodAlias
		rec.GuideID = id
		rec.Confidence = confExact
		if c, ok := m.byID[strings.ToLower(id)]; ok {
			rec.GuideID = c.ch.ID
			rec.GuideGroup = c.ch.SourceGroup
		}
		return rec
	}

	if id, conf, ok := m.cfg.Cache.Lookup(e.Name, e.TvgID); ok {
		// Honour the cache only while the channel still exists upstream.
		if c, ok := m.byID[strings.ToLower(id)]; ok {
			rec.Method = MethodCache
			rec.GuideID = c.ch.ID
			rec.GuideGroup = c.ch.SourceGroup
			rec.Confidence = conf
			return rec
		}
	}

	if id := strings.ToLower(strings.TrimSpace(e.TvgID)); id != "" {
		if c, ok := m.byID[id]; ok {
			rec.Method = MethodIDExact
			rec.GuideID = c.ch.ID
			rec.GuideGroup = c.ch.SourceGroup
			rec.Confidence = confExact
			return rec
		}
	}

	if ck := textnorm.Compact(e.TvgID); ck != "" {
		if cands := m.byCompact[ck]; len(cands) > 0 {
			c := preferred(cands)
			rec.Method = MethodIDCompact
			rec.GuideID = c.ch.ID
			rec.GuideGroup = c.ch.SourceGroup
			rec.Confidence = confIDCompact
			return rec
		}
	}

	for _, name := range []string{e.Name, e.TvgName} {
		n := textnorm.Normalize(name)
		if n == "" {
			continue
		}
		// Several guide channels sharing the name is still an exact
		// match; the source-group priority rank picks the winner.
		if cands := m.byName[n]; len(cands) > 0 {
			c := preferred(cands)
			rec.Method = MethodNameExact
			rec.GuideID = c.ch.ID
			rec.GuideGroup = c.ch.SourceGroup
			rec.Confidence = confNameExact
			return rec
		}
	}

	if m.cfg.DisableFuzzy {
		return rec
	}
	if c, score := m.bestFuzzy(e); c != nil {
		rec.Method = MethodFuzzy
		rec.GuideID = c.ch.ID
		rec.GuideGroup = c.ch.SourceGroup
		bonus := score - m.cfg.Threshold
		if bonus > confFuzzyCap {
			bonus = confFuzzyCap
		}
		rec.Confidence = confFuzzyBase + bonus
	}
	return rec
}

// bestFuzzy scans every candidate's display names and keeps the best scorer
// at or above the threshold. Ties resolve by guide source-group priority,
// then score, then first-seen order, so reruns over the same inputs pick the
// same channel.
func (m *Matcher) bestFuzzy(e playlist.Entry) (*candidate, float64) {
	var best *candidate
	var bestScore float64
	for _, c := range m.cands {
		var s float64
		for _, n := range c.names {
			if v := m.cfg.Scorer.Score(e.Name, n); v > s {
				s = v
			}
		}
		if s < m.cfg.Threshold {
			continue
		}
		if best == nil || betterFuzzy(c, s, best, bestScore) {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}

func betterFuzzy(a *candidate, as float64, b *candidate, bs float64) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	if as != bs {
		return as > bs
	}
	return a.ord < b.ord
}

// preferred picks the winner among equal-tier candidates.
func preferred(cands []*candidate) *candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.rank < best.rank || (c.rank == best.rank && c.ord < best.ord) {
			best = c
		}
	}
	return best
}

func (m *Matcher) store(rec Record) {
	if m.cfg.Cache == nil {
		return
	}
	// Alias hits are already pinned in the overrides file; caching them
	// would just shadow operator edits.
	if rec.Method == MethodAlias || rec.Method == MethodCache {
		return
	}
	if err := m.cfg.Cache.Store(rec.Name, rec.TvgID, rec.GuideID, rec.Method, rec.Confidence); err != nil {
		m.cfg.Logger.Warn("match cache store failed", "name", rec.Name, "error", err)
	}
}

func (m *Matcher) trace(rec Record) {
	if m.cfg.Trace == nil {
		return
	}
	applied := "kept"
	if rec.Matched() && rec.Confidence >= m.cfg.Threshold {
		applied = "applied"
	}
	fmt.Fprintf(m.cfg.Trace, "[MATCH] name=%q old_id=%q method=%s guide_id=%q confidence=%.2f id=%s\n",
		rec.Name, rec.TvgID, rec.Method, rec.GuideID, rec.Confidence, applied)
}

// MethodRows returns the ByMethod breakdown as sorted (method, count) rows
// for the run summary table.
func (s Stats) MethodRows() [][]string {
	methods := make([]string, 0, len(s.ByMethod))
	for k := range s.ByMethod {
		methods = append(methods, k)
	}
	sort.Strings(methods)
	out := make([][]string, len(methods))
	for i, k := range methods {
		out[i] = []string{k, fmt.Sprintf("%d", s.ByMethod[k])}
	}
	return out
}
