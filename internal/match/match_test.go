package match

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/epgsync/epg-sync/internal/guide"
	"github.com/epgsync/epg-sync/internal/playlist"
)

func testGuide() []guide.Channel {
	return []guide.Channel{
		{ID: "BBCOne.uk", DisplayNames: []string{"BBC One", "BBC 1"}, SourceGroup: "uk"},
		{ID: "ITV1.uk", DisplayNames: []string{"ITV 1"}, SourceGroup: "uk"},
		{ID: "SkySportsF1.uk", DisplayNames: []string{"Sky Sports F1"}, SourceGroup: "uk"},
		{ID: "Discovery.us", DisplayNames: []string{"Discovery Channel"}, SourceGroup: "us"},
	}
}

func entry(name, tvgID string) playlist.Entry {
	return playlist.Entry{
		Extinf: `#EXTINF:-1 tvg-id="` + tvgID + `" tvg-name="` + name + `",` + name,
		Name:   name,
		TvgID:  tvgID,
		URL:    "http://example.com/" + strings.ReplaceAll(name, " ", ""),
	}
}

func TestMatchIDExact(t *testing.T) {
	m := New(Config{}, testGuide())
	res, err := m.Run([]playlist.Entry{entry("whatever", "bbcone.uk")})
	if err != nil {
		t.Fatal(err)
	}
	rec := res.Records[0]
	if rec.Method != MethodIDExact || rec.GuideID != "BBCOne.uk" {
		t.Fatalf("got method=%s id=%s", rec.Method, rec.GuideID)
	}
	if rec.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", rec.Confidence)
	}
	if res.Entries[0].TvgID != "BBCOne.uk" {
		t.Fatalf("tvg-id not rewritten: %q", res.Entries[0].TvgID)
	}
	if !strings.Contains(res.Entries[0].Extinf, `tvg-id="BBCOne.uk"`) {
		t.Fatalf("extinf not rewritten: %q", res.Entries[0].Extinf)
	}
}

func TestMatchIDCompact(t *testing.T) {
	m := New(Config{}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("some channel", "bbc-one-uk")})
	rec := res.Records[0]
	if rec.Method != MethodIDCompact || rec.GuideID != "BBCOne.uk" {
		t.Fatalf("got method=%s id=%s", rec.Method, rec.GuideID)
	}
}

func TestMatchNameExactUnique(t *testing.T) {
	m := New(Config{}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("Discovery Channel HD", "")})
	rec := res.Records[0]
	if rec.Method != MethodNameExact || rec.GuideID != "Discovery.us" {
		t.Fatalf("got method=%s id=%s", rec.Method, rec.GuideID)
	}
	if rec.Confidence != confNameExact {
		t.Fatalf("confidence = %v", rec.Confidence)
	}
}

func TestMatchFuzzy(t *testing.T) {
	m := New(Config{}, testGuide())
	// Shares 3 of 4 tokens with "sky sports f1": score 0.75.
	res, _ := m.Run([]playlist.Entry{entry("Sky Sports F1 Extra", "")})
	rec := res.Records[0]
	if rec.Method != MethodFuzzy || rec.GuideID != "SkySportsF1.uk" {
		t.Fatalf("got method=%s id=%s", rec.Method, rec.GuideID)
	}
	if rec.Confidence < confFuzzyBase || rec.Confidence > confFuzzyBase+confFuzzyCap {
		t.Fatalf("confidence = %v out of fuzzy range", rec.Confidence)
	}
}

func TestMatchFuzzyBelowThresholdUnmatched(t *testing.T) {
	m := New(Config{}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("Totally Different Network", "nope")})
	rec := res.Records[0]
	if rec.Method != MethodUnmatched {
		t.Fatalf("got method=%s", rec.Method)
	}
	if res.Entries[0].TvgID != "nope" {
		t.Fatalf("unmatched entry changed: %q", res.Entries[0].TvgID)
	}
}

func TestMatchDisableFuzzy(t *testing.T) {
	m := New(Config{DisableFuzzy: true}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("Sky Sports F1 Extra", "")})
	if res.Records[0].Method != MethodUnmatched {
		t.Fatalf("got method=%s", res.Records[0].Method)
	}
}

func TestFuzzyPriorityTieBreak(t *testing.T) {
	channels := []guide.Channel{
		{ID: "a.low", DisplayNames: []string{"News Channel One"}, SourceGroup: "backup"},
		{ID: "a.high", DisplayNames: []string{"News Channel One"}, SourceGroup: "main"},
	}
	m := New(Config{GroupPriority: map[string]int{"main": 0, "backup": 1}}, channels)
	res, _ := m.Run([]playlist.Entry{entry("News Channel One Extra", "")})
	rec := res.Records[0]
	if rec.GuideID != "a.high" {
		t.Fatalf("priority tie-break picked %s", rec.GuideID)
	}
	if rec.GuideGroup != "main" {
		t.Fatalf("guide group = %s", rec.GuideGroup)
	}
}

func TestAmbiguousNameResolvedByPriority(t *testing.T) {
	channels := []guide.Channel{
		{ID: "one.b", DisplayNames: []string{"Cinema"}, SourceGroup: "b"},
		{ID: "one.a", DisplayNames: []string{"Cinema"}, SourceGroup: "a"},
	}
	m := New(Config{GroupPriority: map[string]int{"a": 0, "b": 1}}, channels)
	res, _ := m.Run([]playlist.Entry{entry("Cinema", "")})
	rec := res.Records[0]
	if rec.Method != MethodNameExact {
		t.Fatalf("ambiguous exact name resolved via %s", rec.Method)
	}
	if rec.GuideID != "one.a" || rec.GuideGroup != "a" {
		t.Fatalf("picked %s from %s", rec.GuideID, rec.GuideGroup)
	}
}

func TestAmbiguousNameMatchesWithFuzzyDisabled(t *testing.T) {
	channels := []guide.Channel{
		{ID: "one.a", DisplayNames: []string{"Cinema"}, SourceGroup: "a"},
		{ID: "one.b", DisplayNames: []string{"Cinema"}, SourceGroup: "b"},
	}
	m := New(Config{DisableFuzzy: true, GroupPriority: map[string]int{"a": 0, "b": 1}}, channels)
	res, _ := m.Run([]playlist.Entry{entry("Cinema", "")})
	rec := res.Records[0]
	if rec.Method != MethodNameExact || rec.GuideID != "one.a" {
		t.Fatalf("got method=%s id=%q", rec.Method, rec.GuideID)
	}
}

func TestAliasOverrideWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epg_aliases.csv")
	csv := "m3u_name,tvg_id_current,tvg_id_target\nBBC One,,ITV1.uk\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	aliases, err := LoadAliases(path)
	if err != nil {
		t.Fatal(err)
	}
	m := New(Config{Aliases: aliases}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("BBC One", "bbcone.uk")})
	rec := res.Records[0]
	if rec.Method != MethodAlias || rec.GuideID != "ITV1.uk" {
		t.Fatalf("got method=%s id=%s", rec.Method, rec.GuideID)
	}
}

func TestAliasMissingFileIsEmpty(t *testing.T) {
	aliases, err := LoadAliases(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if aliases.Len() != 0 {
		t.Fatalf("len = %d", aliases.Len())
	}
}

func TestCacheStabilizesFuzzy(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "match.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	m := New(Config{Cache: cache}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("Sky Sports F1 Extra", "")})
	if res.Records[0].Method != MethodFuzzy {
		t.Fatalf("first run method = %s", res.Records[0].Method)
	}

	m2 := New(Config{Cache: cache}, testGuide())
	res2, _ := m2.Run([]playlist.Entry{entry("Sky Sports F1 Extra", "")})
	rec := res2.Records[0]
	if rec.Method != MethodCache || rec.GuideID != "SkySportsF1.uk" {
		t.Fatalf("second run method=%s id=%s", rec.Method, rec.GuideID)
	}
}

func TestCacheIgnoredWhenChannelGone(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "match.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()
	if err := cache.Store("Sky Sports F1 Extra", "", "Removed.id", MethodFuzzy, 0.85); err != nil {
		t.Fatal(err)
	}
	m := New(Config{Cache: cache}, testGuide())
	res, _ := m.Run([]playlist.Entry{entry("Sky Sports F1 Extra", "")})
	rec := res.Records[0]
	if rec.Method == MethodCache {
		t.Fatal("stale cache entry honoured")
	}
	if rec.GuideID != "SkySportsF1.uk" {
		t.Fatalf("fell back to %s", rec.GuideID)
	}
}

func TestMatcherNeverDropsEntries(t *testing.T) {
	entries := []playlist.Entry{
		entry("BBC One", "bbcone.uk"),
		entry("Totally Different Network", ""),
		entry("Discovery Channel", ""),
	}
	m := New(Config{}, testGuide())
	res, _ := m.Run(entries)
	if len(res.Entries) != len(entries) {
		t.Fatalf("entries in=%d out=%d", len(entries), len(res.Entries))
	}
	if res.Stats.Entries != 3 || res.Stats.Matched != 2 || res.Stats.Unmatched != 1 {
		t.Fatalf("stats = %s", res.Stats)
	}
}

func TestKeepMapOnlyMatched(t *testing.T) {
	m := New(Config{}, testGuide())
	res, _ := m.Run([]playlist.Entry{
		entry("BBC One", "bbcone.uk"),
		entry("Totally Different Network", ""),
	})
	if len(res.Keep) != 1 {
		t.Fatalf("keep = %v", res.Keep)
	}
	if res.Keep["BBCOne.uk"] != "BBCOne.uk" {
		t.Fatalf("keep = %v", res.Keep)
	}
}

func TestTraceLines(t *testing.T) {
	var buf bytes.Buffer
	m := New(Config{Trace: &buf}, testGuide())
	_, _ = m.Run([]playlist.Entry{
		entry("BBC One", "bbcone.uk"),
		entry("Totally Different Network", ""),
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("trace lines = %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "[MATCH] ") || !strings.Contains(lines[0], "method=id_exact") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "method=unmatched") {
		t.Fatalf("line 1 = %q", lines[1])
	}
}

func TestGuideIDCollisionFirstSeenWins(t *testing.T) {
	channels := []guide.Channel{
		{ID: "shared.id", DisplayNames: []string{"Main Feed"}, SourceGroup: "main"},
		{ID: "shared.id", DisplayNames: []string{"Backup Feed"}, SourceGroup: "backup"},
	}
	m := New(Config{}, channels)
	if m.Channels() != 1 {
		t.Fatalf("indexed %d channels", m.Channels())
	}
	res, _ := m.Run([]playlist.Entry{entry("x", "shared.id")})
	if res.Records[0].GuideGroup != "main" {
		t.Fatalf("collision resolved to %s", res.Records[0].GuideGroup)
	}
}

func TestTokenSetScorer(t *testing.T) {
	s := TokenSetScorer{}
	if got := s.Score("Sky Sports F1 HD", "Sky Sports F1"); got != 1.0 {
		t.Fatalf("quality-token score = %v", got)
	}
	if got := s.Score("BBC One", "ITV 1"); got != 0 {
		t.Fatalf("disjoint score = %v", got)
	}
}
