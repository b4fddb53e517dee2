// Package playlist parses and writes extended-M3U playlists. Attribute text
// on #EXTINF lines is preserved verbatim; only tvg-id and group-title are
// ever rewritten, via SetAttr.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/epgsync/epg-sync/internal/textnorm"
)

const Header = "#EXTM3U"

const maxLineSize = 1 << 20 // 1 MiB per line

var attrPattern = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// Entry is one channel record: the raw #EXTINF line plus the fields pulled
// out of it, and the stream URL from the following line.
type Entry struct {
	Extinf  string // full #EXTINF line, attributes untouched
	Name    string // display name (text after the comma)
	TvgID   string
	TvgName string
	Group   string
	Logo    string
	Country string
	URL     string

	// SourceGroup tags which source group the entry came from. Set by the
	// aggregator; empty for entries parsed from a finished playlist.
	SourceGroup string
}

// Identity returns the dedup key for an entry. Provider ids are not globally
// comparable, so identity is (normalized display name, stream URL).
func (e Entry) Identity() string {
	return textnorm.Normalize(e.Name) + "\x00" + strings.TrimSpace(e.URL)
}

// Host returns the stream URL's host, used for source attribution when an
// entry matches no known source group.
func (e Entry) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// Parse reads an extended-M3U stream. Duplicate #EXTM3U header lines are
// tolerated and skipped; other comment lines between an #EXTINF and its URL
// reset the pending entry (same as a malformed pair).
func Parse(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var entries []Entry
	var pending *Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, Header) {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			e := parseExtinf(line)
			pending = &e
			continue
		}
		if strings.HasPrefix(line, "#") {
			pending = nil
			continue
		}
		if pending != nil {
			pending.URL = line
			entries = append(entries, *pending)
			pending = nil
		}
	}
	return entries, sc.Err()
}

// ParseFile reads path and parses it. A missing file is not an error here;
// the caller decides whether an absent input matters.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

func parseExtinf(line string) Entry {
	e := Entry{Extinf: line}
	meta := line
	if i := strings.Index(line, ","); i >= 0 {
		meta = line[:i]
		e.Name = strings.TrimSpace(line[i+1:])
	}
	attrs := map[string]string{}
	for _, m := range attrPattern.FindAllStringSubmatch(meta, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}
	e.TvgID = firstAttr(attrs, "tvg-id", "tvg_id", "tvgid")
	e.TvgName = firstAttr(attrs, "tvg-name", "tvg_name")
	e.Group = firstAttr(attrs, "group-title", "group_title")
	e.Logo = firstAttr(attrs, "tvg-logo")
	e.Country = firstAttr(attrs, "tvg-country")
	return e
}

func firstAttr(attrs map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// SetAttr returns the #EXTINF line with key set to val: an existing value is
// replaced, otherwise the attribute is inserted before the comma. Empty val
// leaves the line unchanged.
func SetAttr(extinf, key, val string) string {
	if val == "" {
		return extinf
	}
	pat := regexp.MustCompile(regexp.QuoteMeta(key) + `="[^"]*"`)
	if pat.MatchString(extinf) {
		return pat.ReplaceAllString(extinf, key+`="`+val+`"`)
	}
	if i := strings.Index(extinf, ","); i >= 0 {
		return extinf[:i] + ` ` + key + `="` + val + `"` + extinf[i:]
	}
	return extinf + ` ` + key + `="` + val + `"`
}

// Write emits entries as an extended-M3U document with exactly one header.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	for _, e := range entries {
		ext := e.Extinf
		if ext == "" {
			ext = "#EXTINF:-1," + e.Name
		}
		if _, err := bw.WriteString(ext + "\n" + e.URL + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the playlist to path via a temp name and rename, so a
// reader never observes a half-written file.
func WriteFile(path string, entries []Entry) error {
	tmp, err := os.CreateTemp(dirOf(path), ".playlist-*.m3u.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	werr := Write(tmp, entries)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("write %s: %w", path, werr)
		}
		return fmt.Errorf("write %s: %w", path, cerr)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "."
}
