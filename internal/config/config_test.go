package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validMap() map[string]string {
	return map[string]string{
		"work_dir":            "/tmp/epg",
		"favourites":          "BBC One, ITV",
		"source.uk.urls":      "http://a/playlist.m3u,http://b/playlist.m3u",
		"source.uk.priority":  "0",
		"source.epg.urls":     "http://a/guide.xml.gz",
		"source.epg.kind":     "guide",
		"source.epg.priority": "1",
	}
}

func TestFromMapDefaults(t *testing.T) {
	c, err := FromMap(validMap())
	if err != nil {
		t.Fatal(err)
	}
	if c.FuzzyThreshold != 0.60 || !c.FuzzyEnabled {
		t.Fatalf("fuzzy defaults: %+v", c)
	}
	if c.FetchTimeout != 60*time.Second || c.RetryAttempts != 3 {
		t.Fatalf("fetch defaults: %+v", c)
	}
	if c.PlaylistOut != "matched.m3u" || c.GuideOut != "guide_matched.xml.gz" {
		t.Fatalf("output defaults: %+v", c)
	}
}

func TestFromMapSources(t *testing.T) {
	c, err := FromMap(validMap())
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Sources) != 2 {
		t.Fatalf("sources = %+v", c.Sources)
	}
	if c.Sources[0].Name != "uk" || c.Sources[0].Kind != "playlist" || len(c.Sources[0].URLs) != 2 {
		t.Fatalf("source 0 = %+v", c.Sources[0])
	}
	if c.Sources[1].Name != "epg" || c.Sources[1].Kind != "guide" {
		t.Fatalf("source 1 = %+v", c.Sources[1])
	}
	if !c.GuideWanted() {
		t.Fatal("GuideWanted = false")
	}
	if p := c.GroupPriority(); p["uk"] != 0 || p["epg"] != 1 {
		t.Fatalf("priorities = %v", p)
	}
}

func TestFromMapMissingRequired(t *testing.T) {
	for _, drop := range []string{"work_dir", "favourites"} {
		m := validMap()
		delete(m, drop)
		if _, err := FromMap(m); !errors.Is(err, ErrConfig) {
			t.Fatalf("dropping %s: err = %v", drop, err)
		}
	}
}

func TestFromMapUnknownKeyFatal(t *testing.T) {
	m := validMap()
	m["work_dirr"] = "/tmp/typo"
	if _, err := FromMap(m); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestFromMapSourceWithoutURLs(t *testing.T) {
	m := validMap()
	m["source.empty.priority"] = "5"
	if _, err := FromMap(m); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestFromMapBadThreshold(t *testing.T) {
	m := validMap()
	m["fuzzy_threshold"] = "1.5"
	if _, err := FromMap(m); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFileTOMLAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epg-sync.toml")
	doc := `
work_dir = "/tmp/epg"
favourites = ["BBC One", "ITV"]
fuzzy_threshold = 0.7

[source.uk]
urls = ["http://a/playlist.m3u"]
priority = 0
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EPG_SYNC_FUZZY_THRESHOLD", "0.65")
	t.Setenv("EPG_SYNC_SOURCE__UK__PRIORITY", "3")

	flat, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := FromMap(flat)
	if err != nil {
		t.Fatal(err)
	}
	if c.FuzzyThreshold != 0.65 {
		t.Fatalf("env overlay lost: %v", c.FuzzyThreshold)
	}
	if c.Sources[0].Priority != 3 {
		t.Fatalf("source priority = %d", c.Sources[0].Priority)
	}
	if len(c.Favourites) != 2 || c.Favourites[0] != "BBC One" {
		t.Fatalf("favourites = %v", c.Favourites)
	}
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	flat, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(flat) != 0 {
		t.Fatalf("flat = %v", flat)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nEPG_SYNC_WORK_DIR=/tmp/epg\nEPG_SYNC_LOG_LEVEL=\"debug\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EPG_SYNC_WORK_DIR", "")
	t.Setenv("EPG_SYNC_LOG_LEVEL", "")
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("EPG_SYNC_WORK_DIR") != "/tmp/epg" {
		t.Fatalf("WORK_DIR = %q", os.Getenv("EPG_SYNC_WORK_DIR"))
	}
	if os.Getenv("EPG_SYNC_LOG_LEVEL") != "debug" {
		t.Fatalf("LOG_LEVEL = %q", os.Getenv("EPG_SYNC_LOG_LEVEL"))
	}
}

func TestLoadFavourites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favourites.txt")
	content := "# favourites\nBBC One\nITV\nBBC 1 = BBC One\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	names, aliases, err := LoadFavourites(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "BBC One" {
		t.Fatalf("names = %v", names)
	}
	if aliases["BBC 1"] != "BBC One" {
		t.Fatalf("aliases = %v", aliases)
	}
}
