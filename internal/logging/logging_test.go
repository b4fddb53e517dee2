package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func capture() (*consoleHandler, *strings.Builder) {
	var sb strings.Builder
	return &consoleHandler{w: &sb, level: slog.LevelInfo}, &sb
}

func TestConsoleHandlerFormat(t *testing.T) {
	h, sb := capture()
	logger := slog.New(h)
	logger.Info("fetched group", "group", "uk", "files", 3)
	line := sb.String()
	if !strings.Contains(line, "INFO fetched group group=uk files=3") {
		t.Fatalf("line = %q", line)
	}
}

func TestStagePromotedToPrefix(t *testing.T) {
	h, sb := capture()
	logger := slog.New(h).With("stage", "prune")
	logger.Info("kept channels", "kept", 42)
	line := sb.String()
	if !strings.Contains(line, "INFO prune: kept channels kept=42") {
		t.Fatalf("line = %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	h, sb := capture()
	logger := slog.New(h)
	logger.Debug("noise")
	if sb.Len() != 0 {
		t.Fatalf("debug leaked: %q", sb.String())
	}
}

func TestQuotingValuesWithSpaces(t *testing.T) {
	h, sb := capture()
	slog.New(h).Info("matched", "name", "BBC One")
	if !strings.Contains(sb.String(), `name="BBC One"`) {
		t.Fatalf("line = %q", sb.String())
	}
}

func TestFileFanout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "epg-sync.log")
	logger, closer, err := New(Options{Level: "info", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("run complete", "run_id", "abc")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "run complete run_id=abc") {
		t.Fatalf("file = %q", data)
	}
}

func TestFanoutEnabled(t *testing.T) {
	a, _ := capture()
	b := &consoleHandler{w: &strings.Builder{}, level: slog.LevelError}
	f := fanout{a, b}
	if !f.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be enabled via console handler")
	}
}
