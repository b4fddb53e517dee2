package match

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/epgsync/epg-sync/internal/textnorm"
)

// AliasOverrides are manual (playlist name, current tvg-id) → guide id
// mappings. They win over every automatic tier, which is how an operator
// pins a stubborn channel after checking the unmatched report.
type AliasOverrides struct {
	targets map[aliasKey]string
}

type aliasKey struct {
	name  string // normalized playlist name
	tvgID string // lowercased current tvg-id, may be empty
}

// LoadAliases reads the overrides CSV (columns: m3u_name, tvg_id_current,
// tvg_id_target; header row required). A missing file is an empty set.
func LoadAliases(path string) (*AliasOverrides, error) {
	out := &AliasOverrides{targets: map[aliasKey]string{}}
	if path == "" {
		return out, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return out, nil
		}
		return nil, fmt.Errorf("aliases %s: %w", path, err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("aliases %s: %w", path, err)
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		target := get("tvg_id_target")
		if target == "" {
			continue
		}
		key := aliasKey{
			name:  textnorm.Normalize(get("m3u_name")),
			tvgID: strings.ToLower(get("tvg_id_current")),
		}
		out.targets[key] = target
	}
	return out, nil
}

// Lookup returns the pinned guide id for (name, tvgID), trying the exact
// pair first, then the name alone.
func (a *AliasOverrides) Lookup(name, tvgID string) (string, bool) {
	if a == nil || len(a.targets) == 0 {
		return "", false
	}
	norm := textnorm.Normalize(name)
	if id, ok := a.targets[aliasKey{name: norm, tvgID: strings.ToLower(strings.TrimSpace(tvgID))}]; ok {
		return id, true
	}
	id, ok := a.targets[aliasKey{name: norm}]
	return id, ok
}

// Len reports how many overrides are loaded.
func (a *AliasOverrides) Len() int {
	if a == nil {
		return 0
	}
	return len(a.targets)
}
