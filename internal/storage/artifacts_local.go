package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/frederic-klein/llamapkg/internal/fetch"
)

const metadataFile = "metadata.json"

// artifactRecord is written next to every stored artifact.
type artifactRecord struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Filename   string    `json:"filename"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// LocalArtifacts stores artifacts under <dir>/<name>/<version>/.
type LocalArtifacts struct {
	dir    string
	getter fetch.Getter
}

// NewLocalArtifacts creates a filesystem artifact store rooted at dir.
// getter is used for http(s) locators and may be nil.
func NewLocalArtifacts(dir string, getter fetch.Getter) *LocalArtifacts {
	return &LocalArtifacts{dir: dir, getter: getter}
}

// Dir returns the store's root directory.
func (s *LocalArtifacts) Dir() string {
	return s.dir
}

// VersionDir returns the directory holding one version's artifact.
func (s *LocalArtifacts) VersionDir(name, version string) string {
	return filepath.Join(s.dir, name, version)
}

// Upload copies the artifact into the store and returns a file:// locator.
func (s *LocalArtifacts) Upload(ctx context.Context, name, version, artifactPath string) (Upload, error) {
	src, err := os.Open(artifactPath)
	if err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: err}
	}
	defer src.Close()

	filename := filepath.Base(artifactPath)
	dest := filepath.Join(s.VersionDir(name, version), filename)
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}

	sum, err := writeAtomic(dest, src)
	if err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: err}
	}

	rec := artifactRecord{
		Name:       name,
		Version:    version,
		Filename:   filename,
		SHA256:     sum,
		UploadedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: err}
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(dest), metadataFile), data, 0644); err != nil {
		return Upload{}, &Error{Op: "upload", Name: name, Version: version, Err: err}
	}

	return Upload{Locator: FileLocator(dest), SHA256: sum}, nil
}

// Download materializes the artifact into destDir.
func (s *LocalArtifacts) Download(ctx context.Context, name, version, locator, destDir string) (string, error) {
	if locator == "" {
		return "", &Error{Op: "download", Name: name, Version: version, Err: errors.New("no download locator")}
	}
	p, err := fetchLocator(ctx, s.getter, locator, destDir)
	if err != nil {
		return "", &Error{Op: "download", Name: name, Version: version, Err: err}
	}
	return p, nil
}

// InstalledVersions lists versions of name held by this store, sorted.
func (s *LocalArtifacts) InstalledVersions(ctx context.Context, name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "installed_versions", Name: name, Err: err}
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, name, e.Name(), metadataFile)); err == nil {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Remove deletes one version, or every version when version is empty.
func (s *LocalArtifacts) Remove(name, version string) (bool, error) {
	target := filepath.Join(s.dir, name)
	if version != "" {
		target = s.VersionDir(name, version)
	}
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(target); err != nil {
		return false, &Error{Op: "remove", Name: name, Version: version, Err: fmt.Errorf("removing %s: %w", target, err)}
	}
	return true, nil
}
