// Package guide reads and writes XMLTV programme guides. Inputs may be plain
// XML or gzip-compressed; parsing is streaming so multi-hundred-MB country
// feeds never load fully into memory.
package guide

import (
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Channel is one <channel> element: its id plus every display-name, which
// downstream matching treats as aliases for the same channel.
type Channel struct {
	ID           string
	DisplayNames []string
	SourceGroup  string // which source group's guide the channel came from
}

// startFormats covers the XMLTV start/stop attribute with and without a zone.
var startFormats = []string{"20060102150405 -0700", "20060102150405"}

// Open opens an XMLTV file, transparently decompressing .gz. Close the
// returned ReadCloser when done.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gunzip %s: %w", path, err)
	}
	return &gzFile{gz: gz, f: f}, nil
}

type gzFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzFile) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzFile) Close() error {
	gerr := g.gz.Close()
	ferr := g.f.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

// ReadChannels streams path and returns its channel list. Programme elements
// are skipped, so this stays cheap even on full guides.
func ReadChannels(path, sourceGroup string) ([]Channel, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	dec := xml.NewDecoder(r)
	type displayName struct {
		Text string `xml:",chardata"`
	}
	type chNode struct {
		ID           string        `xml:"id,attr"`
		DisplayNames []displayName `xml:"display-name"`
	}
	var out []Channel
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "channel":
			var node chNode
			if err := dec.DecodeElement(&node, &se); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			id := strings.TrimSpace(node.ID)
			if id == "" {
				continue
			}
			ch := Channel{ID: id, SourceGroup: sourceGroup}
			for _, dn := range node.DisplayNames {
				if name := strings.TrimSpace(dn.Text); name != "" {
					ch.DisplayNames = append(ch.DisplayNames, name)
				}
			}
			if len(ch.DisplayNames) == 0 {
				ch.DisplayNames = []string{id}
			}
			out = append(out, ch)
		case "programme":
			_ = dec.Skip()
		}
	}
	return out, nil
}

// CountProgrammes streams path and returns how many programme elements it
// carries. Used to re-validate a consolidated guide from disk.
func CountProgrammes(path string) (int, error) {
	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	dec := xml.NewDecoder(r)
	count := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("parse %s: %w", path, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "programme" {
			count++
			_ = dec.Skip()
		}
	}
}

// rawNode carries an element through decode/encode without interpreting its
// children, so programme metadata survives consolidation verbatim.
type rawNode struct {
	XMLName  xml.Name   `xml:""`
	Attrs    []xml.Attr `xml:",any,attr"`
	InnerXML string     `xml:",innerxml"`
}

// ConsolidateStats reports what Consolidate kept and dropped.
type ConsolidateStats struct {
	Channels         int
	Programmes       int
	DroppedHorizon   int // programmes past the guide horizon
	MalformedSkipped int // input files skipped due to XML errors
}

// Consolidate merges the guide files in paths (highest-priority first) into a
// single XMLTV document at outPath containing only channels in keep, with
// channel ids rewritten through the keep map. The first file to carry a kept
// channel id owns its <channel> element; later duplicates are skipped, which
// is how a guide-channel-id collision across providers resolves to the
// higher-priority source. Programmes starting beyond horizon from now are
// dropped (horizon <= 0 keeps everything). An input file that cannot be
// opened or parsed is skipped and counted, not fatal; the remaining guides
// still consolidate. Output is gzip-compressed when outPath ends in ".gz".
func Consolidate(paths []string, keep map[string]string, horizon time.Duration, outPath string) (ConsolidateStats, error) {
	var stats ConsolidateStats
	if len(keep) == 0 {
		return stats, errors.New("guide: no channel ids to retain")
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".guide-*.tmp")
	if err != nil {
		return stats, err
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if strings.HasSuffix(outPath, ".gz") {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	if _, err := io.WriteString(w, xml.Header+"<tv>\n"); err != nil {
		return stats, err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	var cutoff time.Time
	if horizon > 0 {
		cutoff = time.Now().Add(horizon)
	}

	seen := make(map[string]bool, len(keep))
	for _, path := range paths {
		if err := consolidateOne(path, enc, keep, seen, cutoff, &stats); err != nil {
			var mf *malformedError
			if errors.As(err, &mf) {
				stats.MalformedSkipped++
				continue
			}
			return stats, err
		}
	}
	if err := enc.Flush(); err != nil {
		return stats, err
	}
	if _, err := io.WriteString(w, "\n</tv>\n"); err != nil {
		return stats, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return stats, err
		}
	}
	if err := tmp.Close(); err != nil {
		return stats, err
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return stats, err
	}
	return stats, nil
}

// malformedError marks an input file that cannot be read or parsed; the
// consolidation skips it and keeps going with the remaining guides.
type malformedError struct {
	path string
	err  error
}

func (e *malformedError) Error() string { return fmt.Sprintf("consolidate %s: %v", e.path, e.err) }
func (e *malformedError) Unwrap() error { return e.err }

func consolidateOne(path string, enc *xml.Encoder, keep map[string]string, seen map[string]bool, cutoff time.Time, stats *ConsolidateStats) error {
	r, err := Open(path)
	if err != nil {
		return &malformedError{path: path, err: err}
	}
	defer r.Close()

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &malformedError{path: path, err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "channel":
			id := strings.TrimSpace(attrValue(se.Attr, "id"))
			outID, want := keep[id]
			if !want || seen[id] {
				_ = dec.Skip()
				continue
			}
			var node rawNode
			if err := dec.DecodeElement(&node, &se); err != nil {
				return &malformedError{path: path, err: err}
			}
			node.XMLName = xml.Name{Local: "channel"}
			node.Attrs = setAttrValue(node.Attrs, "id", outID)
			if err := enc.EncodeElement(node, xml.StartElement{Name: node.XMLName}); err != nil {
				return err
			}
			seen[id] = true
			stats.Channels++
		case "programme":
			id := strings.TrimSpace(attrValue(se.Attr, "channel"))
			outID, want := keep[id]
			if !want {
				_ = dec.Skip()
				continue
			}
			if !cutoff.IsZero() {
				if start, ok := parseStart(attrValue(se.Attr, "start")); ok && start.After(cutoff) {
					_ = dec.Skip()
					stats.DroppedHorizon++
					continue
				}
			}
			var node rawNode
			if err := dec.DecodeElement(&node, &se); err != nil {
				return &malformedError{path: path, err: err}
			}
			node.XMLName = xml.Name{Local: "programme"}
			node.Attrs = setAttrValue(node.Attrs, "channel", outID)
			if err := enc.EncodeElement(node, xml.StartElement{Name: node.XMLName}); err != nil {
				return err
			}
			stats.Programmes++
		}
	}
}

func parseStart(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range startFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func attrValue(attrs []xml.Attr, key string) string {
	for _, a := range attrs {
		if a.Name.Local == key {
			return a.Value
		}
	}
	return ""
}

func setAttrValue(attrs []xml.Attr, key, value string) []xml.Attr {
	for i := range attrs {
		if attrs[i].Name.Local == key {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, xml.Attr{Name: xml.Name{Local: key}, Value: value})
}
