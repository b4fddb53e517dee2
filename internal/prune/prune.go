// Package prune reduces the master playlist to the user's favourites and
// produces the channel→country map consumed by the playback client.
package prune

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/epgsync/epg-sync/internal/playlist"
	"github.com/epgsync/epg-sync/internal/textnorm"
)

// Favourites is the user-declared retention set. Lookup is by normalized
// name, so case and diacritics never matter, and an alias maps a provider's
// spelling ("BBC One HD") onto the canonical favourite ("BBC One").
type Favourites struct {
	byNorm map[string]string // normalized name or alias -> canonical name
	order  []string          // canonical names in declaration order
}

// NewFavourites builds the set from canonical names plus alias→canonical
// overrides. Empty names are ignored.
func NewFavourites(names []string, aliases map[string]string) *Favourites {
	f := &Favourites{byNorm: make(map[string]string, len(names)+len(aliases))}
	for _, name := range names {
		key := textnorm.Normalize(name)
		if key == "" {
			continue
		}
		if _, dup := f.byNorm[key]; !dup {
			f.order = append(f.order, name)
		}
		f.byNorm[key] = name
	}
	for alias, canonical := range aliases {
		key := textnorm.Normalize(alias)
		if key == "" || canonical == "" {
			continue
		}
		f.byNorm[key] = canonical
	}
	return f
}

// Match resolves a display name to the canonical favourite it satisfies.
func (f *Favourites) Match(name string) (string, bool) {
	canonical, ok := f.byNorm[textnorm.Normalize(name)]
	return canonical, ok
}

// Names returns the canonical favourites in declaration order.
func (f *Favourites) Names() []string {
	return f.order
}

// Row is one master-playlist entry's pruning outcome.
type Row struct {
	Name      string
	Group     string
	Source    string
	Country   string
	Kept      bool
	Favourite string // canonical favourite satisfied, empty when dropped
}

// Result is the pruner's output.
type Result struct {
	Entries    []playlist.Entry  // pruned playlist, master order preserved
	CountryMap map[string]string // channel name -> country code
	Rows       []Row             // one row per master entry, for the report
	ZeroMatch  []string          // favourites no master entry satisfied
}

// Prune filters master down to the favourites. Entries keep their master
// order; a known country is folded into group-title ("GB - News") so the
// playback client can group by country. Favourites that match nothing are
// collected so a typo in the list is visible in the report instead of
// silently shrinking the lineup.
func Prune(master []playlist.Entry, favs *Favourites, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{CountryMap: make(map[string]string)}
	matched := make(map[string]bool, len(favs.order))

	for _, e := range master {
		row := Row{Name: e.Name, Group: e.Group, Source: e.SourceGroup, Country: e.Country}
		canonical, ok := favs.Match(e.Name)
		if !ok && e.TvgName != "" {
			canonical, ok = favs.Match(e.TvgName)
		}
		if !ok {
			res.Rows = append(res.Rows, row)
			continue
		}
		row.Kept = true
		row.Favourite = canonical
		matched[canonical] = true

		if e.Country != "" {
			group := e.Country
			if e.Group != "" {
				group = e.Country + " - " + e.Group
			}
			e.Extinf = playlist.SetAttr(e.Extinf, "group-title", group)
		}
		key := e.Name
		if key == "" {
			key = e.URL
		}
		res.CountryMap[key] = e.Country
		res.Entries = append(res.Entries, e)
		res.Rows = append(res.Rows, row)
	}

	for _, name := range favs.Names() {
		if !matched[name] {
			res.ZeroMatch = append(res.ZeroMatch, name)
		}
	}
	logger.Info("pruned master playlist",
		"kept", len(res.Entries),
		"dropped", len(master)-len(res.Entries),
		"favourites_unmatched", len(res.ZeroMatch))
	return res
}

// WriteCountryMap atomically writes the channel→country map as sorted JSON.
func WriteCountryMap(path string, m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ccmap-*.json.tmp")
	if err != nil {
		return fmt.Errorf("country map: %w", err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("country map: %w", werr)
		}
		return fmt.Errorf("country map: %w", cerr)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("country map: %w", err)
	}
	return nil
}
