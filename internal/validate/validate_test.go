package validate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPasses(t *testing.T) {
	c := Checks{
		Channels:     12,
		Programmes:   340,
		GuideWanted:  true,
		PlaylistPath: writeFile(t, "matched.m3u", 200),
		GuidePath:    writeFile(t, "guide.xml.gz", 500),
	}
	if err := Run(c); err != nil {
		t.Fatal(err)
	}
}

func TestRunZeroChannelsFatal(t *testing.T) {
	err := Run(Checks{Channels: 0})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "0 channels") {
		t.Fatalf("diagnostic lacks count: %v", err)
	}
}

func TestRunZeroProgrammesOnlyWhenGuideWanted(t *testing.T) {
	playlist := writeFile(t, "matched.m3u", 200)

	err := Run(Checks{Channels: 5, Programmes: 0, GuideWanted: true, PlaylistPath: playlist})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("guide wanted, zero programmes: err = %v", err)
	}

	if err := Run(Checks{Channels: 5, Programmes: 0, GuideWanted: false, PlaylistPath: playlist}); err != nil {
		t.Fatalf("no guide wanted: err = %v", err)
	}
}

func TestRunTinyArtifactFatal(t *testing.T) {
	err := Run(Checks{
		Channels:     5,
		PlaylistPath: writeFile(t, "matched.m3u", 3),
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunChecksWholeArtifactSet(t *testing.T) {
	playlist := writeFile(t, "matched.m3u", 200)
	report := writeFile(t, "prune_report.csv", 120)
	truncated := writeFile(t, "channel_cc_map.json", 2)

	if err := Run(Checks{Channels: 5, PlaylistPath: playlist, Artifacts: []string{report}}); err != nil {
		t.Fatalf("healthy artifact set: %v", err)
	}
	err := Run(Checks{Channels: 5, PlaylistPath: playlist, Artifacts: []string{report, truncated}})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("truncated artifact passed: %v", err)
	}
}

func TestRunMissingGuideFatal(t *testing.T) {
	err := Run(Checks{
		Channels:     5,
		Programmes:   10,
		GuideWanted:  true,
		PlaylistPath: writeFile(t, "matched.m3u", 200),
		GuidePath:    filepath.Join(t.TempDir(), "absent.xml.gz"),
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
}
