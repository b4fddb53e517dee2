// Package report writes the run's CSV reports and renders console summary
// tables. Reports are the operator's audit trail: every pruning and matching
// decision lands in one, so a wrong lineup can be traced without rerunning.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/epgsync/epg-sync/internal/match"
	"github.com/epgsync/epg-sync/internal/prune"
)

// writeCSV writes header+rows to path via temp+rename. Column order is fixed
// by the caller so diffs between runs stay meaningful.
func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.csv.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	w := csv.NewWriter(tmp)
	werr := w.Write(header)
	for _, row := range rows {
		if werr != nil {
			break
		}
		werr = w.Write(row)
	}
	if werr == nil {
		w.Flush()
		werr = w.Error()
	}
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("report %s: %w", path, werr)
		}
		return fmt.Errorf("report %s: %w", path, cerr)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func boolCell(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// WritePrune writes one row per master-playlist entry with its pruning
// outcome, plus a trailing row per favourite that matched nothing.
func WritePrune(path string, res *prune.Result) error {
	header := []string{"name", "group", "source", "country", "kept", "favourite"}
	rows := make([][]string, 0, len(res.Rows)+len(res.ZeroMatch))
	for _, r := range res.Rows {
		rows = append(rows, []string{r.Name, r.Group, r.Source, r.Country, boolCell(r.Kept), r.Favourite})
	}
	for _, name := range res.ZeroMatch {
		rows = append(rows, []string{"", "", "", "", "no", name})
	}
	return writeCSV(path, header, rows)
}

// WriteMatch writes one row per matched playlist entry.
func WriteMatch(path string, records []match.Record) error {
	header := []string{"name", "tvg_id", "guide_id", "method", "confidence", "guide_group"}
	var rows [][]string
	for _, r := range records {
		if !r.Matched() {
			continue
		}
		rows = append(rows, []string{
			r.Name, r.TvgID, r.GuideID, r.Method,
			fmt.Sprintf("%.2f", r.Confidence), r.GuideGroup,
		})
	}
	return writeCSV(path, header, rows)
}

// WriteUnmatched writes the channels no tier could resolve. This file is the
// input for curating alias overrides.
func WriteUnmatched(path string, records []match.Record) error {
	header := []string{"name", "tvg_id", "group", "url"}
	var rows [][]string
	for _, r := range records {
		if r.Matched() {
			continue
		}
		rows = append(rows, []string{r.Name, r.TvgID, r.Group, r.URL})
	}
	return writeCSV(path, header, rows)
}

// SourceRow attributes one pruned channel to the source group it came from,
// falling back to the stream host when the group tag is missing.
type SourceRow struct {
	Name   string
	Source string
	Host   string
}

// WriteSources writes the source attribution report.
func WriteSources(path string, rows []SourceRow) error {
	header := []string{"name", "source", "host"}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Name, r.Source, r.Host})
	}
	return writeCSV(path, header, out)
}

// SourceCounts aggregates attribution rows per source for the console
// summary, sorted by descending count then name.
func SourceCounts(rows []SourceRow) [][]string {
	counts := map[string]int{}
	for _, r := range rows {
		key := r.Source
		if key == "" {
			key = r.Host
		}
		if key == "" {
			key = "unknown"
		}
		counts[key]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, []string{k, fmt.Sprintf("%d", counts[k])})
	}
	return out
}
