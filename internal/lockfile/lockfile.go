// Package lockfile records what install placed into an install directory.
// The same file answers "what is installed" for the resolver.
package lockfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the lock file name inside an install directory.
const FileName = "llamapkg.lock"

// Entry is one installed package.
type Entry struct {
	Name         string
	Version      string
	PURL         string
	Locator      string
	SHA256       string
	Path         string            // install location, relative to the install dir
	Requirements map[string]string // dependency -> constraint
}

// Read parses the lock file at path. A missing file has no entries.
func Read(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	defer f.Close()

	entries, err := NewParser(f).Parse()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Write replaces the lock file at path with entries.
func Write(path string, entries []*Entry) error {
	var buf bytes.Buffer
	if err := NewEmitter(&buf).Emit(entries); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing lock file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming lock file: %w", err)
	}
	return nil
}

// Merge returns existing with every entry of updates replacing the entry
// of the same name.
func Merge(existing, updates []*Entry) []*Entry {
	byName := make(map[string]*Entry, len(existing)+len(updates))
	var order []string
	for _, list := range [][]*Entry{existing, updates} {
		for _, e := range list {
			if _, ok := byName[e.Name]; !ok {
				order = append(order, e.Name)
			}
			byName[e.Name] = e
		}
	}
	out := make([]*Entry, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// Probe reports installed packages from a lock file.
type Probe struct {
	path string
}

// NewProbe reads <installDir>/llamapkg.lock.
func NewProbe(installDir string) *Probe {
	return &Probe{path: filepath.Join(installDir, FileName)}
}

// Path returns the lock file location.
func (p *Probe) Path() string {
	return p.path
}

// Installed returns name -> version for every locked package.
func (p *Probe) Installed(ctx context.Context) (map[string]string, error) {
	entries, err := Read(p.path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Version
	}
	return out, nil
}
