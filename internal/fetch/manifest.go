package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File is one successfully retrieved raw download.
type File struct {
	Group    string `json:"group"`
	Kind     Kind   `json:"kind"`
	Priority int    `json:"priority"`
	URL      string `json:"url"`
	Path     string `json:"path"`
}

// Manifest is the explicit ordered record of what a fetch run produced.
// Stages consume this instead of globbing the scratch directory, so nothing
// depends on filesystem iteration order.
type Manifest struct {
	FetchedAt time.Time `json:"fetched_at"`
	Files     []File    `json:"files"`
}

// ByKind returns the manifest's files of one kind, preserving order.
func (m *Manifest) ByKind(kind Kind) []File {
	var out []File
	for _, f := range m.Files {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Save atomically writes the manifest to path.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json.tmp")
	if err != nil {
		return fmt.Errorf("manifest save: %w", err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("manifest save: %w", werr)
		}
		return fmt.Errorf("manifest save: %w", cerr)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("manifest save: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest load: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest load %s: %w", path, err)
	}
	return &m, nil
}
