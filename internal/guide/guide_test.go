package guide

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const guideA = `<?xml version="1.0" encoding="UTF-8"?>
<tv source-info-name="test-a">
  <channel id="bbcone.uk">
    <display-name>BBC One</display-name>
    <display-name>BBC 1</display-name>
  </channel>
  <channel id="itv.uk">
    <display-name>ITV</display-name>
  </channel>
  <programme start="20260101180000 +0000" stop="20260101190000 +0000" channel="bbcone.uk">
    <title lang="en">News at Six</title>
  </programme>
  <programme start="20260101180000 +0000" stop="20260101190000 +0000" channel="other.uk">
    <title>Not kept</title>
  </programme>
</tv>
`

const guideB = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="bbcone.uk">
    <display-name>BBC One (dup from lower priority)</display-name>
  </channel>
  <programme start="20990101180000 +0000" stop="20990101190000 +0000" channel="bbcone.uk">
    <title>Far future</title>
  </programme>
</tv>
`

func writeGz(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadChannelsGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epg.xml.gz")
	writeGz(t, path, guideA)

	channels, err := ReadChannels(path, "country-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(channels))
	}
	if channels[0].ID != "bbcone.uk" || len(channels[0].DisplayNames) != 2 {
		t.Errorf("unexpected channel: %+v", channels[0])
	}
	if channels[0].SourceGroup != "country-a" {
		t.Errorf("source group not tagged: %+v", channels[0])
	}
}

func TestConsolidate(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.xml")
	pathB := filepath.Join(dir, "b.xml.gz")
	if err := os.WriteFile(pathA, []byte(guideA), 0o644); err != nil {
		t.Fatal(err)
	}
	writeGz(t, pathB, guideB)
	out := filepath.Join(dir, "merged.xml.gz")

	keep := map[string]string{"bbcone.uk": "bbcone.uk"}
	stats, err := Consolidate([]string{pathA, pathB}, keep, 30*24*time.Hour, out)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Channels != 1 {
		t.Errorf("channels kept = %d, want 1 (dup from lower priority skipped)", stats.Channels)
	}
	if stats.Programmes != 1 {
		t.Errorf("programmes kept = %d, want 1", stats.Programmes)
	}
	if stats.DroppedHorizon != 1 {
		t.Errorf("horizon drops = %d, want 1", stats.DroppedHorizon)
	}

	r, err := Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var sb strings.Builder
	buf := make([]byte, 64<<10)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	doc := sb.String()
	if !strings.Contains(doc, "News at Six") {
		t.Error("kept programme missing from output")
	}
	if strings.Contains(doc, "Not kept") || strings.Contains(doc, "Far future") {
		t.Error("dropped programme leaked into output")
	}
	if strings.Count(doc, `<channel id="bbcone.uk"`) != 1 {
		t.Error("channel element duplicated")
	}
}

func TestConsolidateRekey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.xml")
	if err := os.WriteFile(path, []byte(guideA), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "merged.xml")
	keep := map[string]string{"bbcone.uk": "playlist.bbc.one"}
	if _, err := Consolidate([]string{path}, keep, 0, out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `channel="playlist.bbc.one"`) {
		t.Error("programme channel not re-keyed")
	}
	if !strings.Contains(string(data), `id="playlist.bbc.one"`) {
		t.Error("channel id not re-keyed")
	}
}

func TestConsolidateSkipsMalformedInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.xml")
	if err := os.WriteFile(bad, []byte("<tv><channel id=\"x\">broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "good.xml")
	if err := os.WriteFile(good, []byte(guideA), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "merged.xml")

	keep := map[string]string{"bbcone.uk": "bbcone.uk"}
	stats, err := Consolidate([]string{bad, good}, keep, 0, out)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MalformedSkipped != 1 {
		t.Errorf("malformed skipped = %d, want 1", stats.MalformedSkipped)
	}
	if stats.Channels != 1 || stats.Programmes != 1 {
		t.Errorf("good guide not consolidated: %+v", stats)
	}
}

func TestConsolidateEmptyKeep(t *testing.T) {
	if _, err := Consolidate(nil, nil, 0, filepath.Join(t.TempDir(), "out.xml")); err == nil {
		t.Fatal("expected error for empty keep set")
	}
}
