// Package publish deploys validated artifacts to the target directory. Each
// file is copied via a temp name in the target directory and renamed into
// place, so a media server reading mid-deploy sees either the old file or
// the new one, never a torso.
package publish

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// TargetProbe reports whether the deployment target is usable. The network
// share backing the target comes and goes; an unavailable target skips the
// publish without failing the run.
type TargetProbe interface {
	Available(dir string) bool
}

// DirProbe is the default probe: the target must exist and be a writable
// directory.
type DirProbe struct{}

func (DirProbe) Available(dir string) bool {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// File is one artifact to deploy: source path and its name in the target.
type File struct {
	Src  string
	Name string
}

// Set is the full artifact set for one run.
type Set struct {
	Files []File
}

// Add appends an artifact, keeping the target name from src's base name.
func (s *Set) Add(src string) {
	s.Files = append(s.Files, File{Src: src, Name: filepath.Base(src)})
}

// AddAs appends an artifact under an explicit target name.
func (s *Set) AddAs(src, name string) {
	s.Files = append(s.Files, File{Src: src, Name: name})
}

// Publisher copies artifact sets into a target directory.
type Publisher struct {
	Dir    string
	Probe  TargetProbe
	Logger *slog.Logger
}

// Result reports what a publish run did.
type Result struct {
	Skipped   bool // target unavailable, nothing touched
	Deployed  int
	BytesSent int64
}

// Run probes the target and deploys the set. An unavailable target returns
// Skipped with a nil error. A copy failure aborts the remaining files and
// returns the error; files already renamed into place stay, files not yet
// reached keep their previous contents.
func (p *Publisher) Run(set Set) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	probe := p.Probe
	if probe == nil {
		probe = DirProbe{}
	}

	var res Result
	if !probe.Available(p.Dir) {
		logger.Warn("deployment target unavailable, publish skipped", "target", p.Dir)
		res.Skipped = true
		return res, nil
	}

	for _, f := range set.Files {
		n, err := deployOne(f.Src, filepath.Join(p.Dir, f.Name))
		if err != nil {
			return res, fmt.Errorf("publish %s: %w", f.Name, err)
		}
		res.Deployed++
		res.BytesSent += n
	}
	logger.Info("published artifacts",
		"target", p.Dir,
		"files", res.Deployed,
		"bytes", res.BytesSent)
	return res, nil
}

func deployOne(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".deploy-*.tmp")
	if err != nil {
		return 0, err
	}
	name := tmp.Name()
	n, cpErr := io.Copy(tmp, in)
	closeErr := tmp.Close()
	if cpErr != nil || closeErr != nil {
		os.Remove(name)
		if cpErr != nil {
			return 0, cpErr
		}
		return 0, closeErr
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return 0, err
	}
	return n, nil
}
