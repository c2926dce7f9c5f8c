// Package extractor reads package manifests out of archives and unpacks
// or builds archives.
package extractor

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/llamapkg/internal/model"
)

// Manifest file names, in lookup order.
const (
	ManifestYAML = "llamapkg.yaml"
	ManifestJSON = "llamapkg.json"
)

// ErrNoManifest is returned when an archive or directory has no manifest.
var ErrNoManifest = errors.New("no llamapkg.yaml or llamapkg.json found")

// ErrUnsupportedFormat is returned for files that are neither .tar.gz,
// .tgz nor .zip.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// FlexVersion accepts a JSON version written as a string or a number.
type FlexVersion string

func (v *FlexVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = FlexVersion(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = FlexVersion(n.String())
		return nil
	}
	return fmt.Errorf("version must be a string or number, got %s", data)
}

// manifestJSON lets "version": 1.2 through; YAML scalars already decode
// into strings.
type manifestJSON struct {
	model.Manifest
	Version FlexVersion `json:"version"`
}

// Kind identifies an archive format.
type Kind int

const (
	KindUnknown Kind = iota
	KindTarGz
	KindZip
)

// KindOf guesses the format from the file name.
func KindOf(path string) Kind {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return KindTarGz
	case strings.HasSuffix(lower, ".zip"):
		return KindZip
	}
	return KindUnknown
}

// Extractor reads and writes package archives.
type Extractor struct{}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Manifest reads the manifest from the archive root or from its single
// top-level directory, and validates it.
func (e *Extractor) Manifest(archivePath string) (*model.Manifest, error) {
	var yml, jsn []byte
	visit := func(name string, open func() (io.ReadCloser, error)) error {
		if !nearRoot(name) {
			return nil
		}
		var dst *[]byte
		switch filepath.Base(name) {
		case ManifestYAML:
			dst = &yml
		case ManifestJSON:
			dst = &jsn
		default:
			return nil
		}
		rc, err := open()
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		*dst = data
		return nil
	}

	if err := walkArchive(archivePath, visit); err != nil {
		return nil, err
	}

	switch {
	case yml != nil:
		return parseManifest(yml, ManifestYAML)
	case jsn != nil:
		return parseManifest(jsn, ManifestJSON)
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(archivePath), ErrNoManifest)
}

// ManifestFromDir reads the manifest at the top of dir.
func (e *Extractor) ManifestFromDir(dir string) (*model.Manifest, error) {
	for _, name := range []string{ManifestYAML, ManifestJSON} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return parseManifest(data, name)
	}
	return nil, fmt.Errorf("%s: %w", dir, ErrNoManifest)
}

func parseManifest(data []byte, name string) (*model.Manifest, error) {
	m := &model.Manifest{}
	if name == ManifestJSON {
		var mj manifestJSON
		if err := json.Unmarshal(data, &mj); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		*m = mj.Manifest
		m.Version = string(mj.Version)
	} else if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// nearRoot reports whether name sits at the archive root or one directory
// below it.
func nearRoot(name string) bool {
	parts := strings.Split(strings.Trim(filepath.ToSlash(name), "/"), "/")
	return len(parts) <= 2
}

// walkArchive calls visit for every regular file in the archive.
func walkArchive(archivePath string, visit func(name string, open func() (io.ReadCloser, error)) error) error {
	switch KindOf(archivePath) {
	case KindTarGz:
		f, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer f.Close()

		gzReader, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("decompressing archive: %w", err)
		}
		defer gzReader.Close()

		tarReader := tar.NewReader(gzReader)
		for {
			header, err := tarReader.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading archive: %w", err)
			}
			if header.Typeflag != tar.TypeReg {
				continue
			}
			open := func() (io.ReadCloser, error) { return io.NopCloser(tarReader), nil }
			if err := visit(header.Name, open); err != nil {
				return err
			}
		}

	case KindZip:
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer zr.Close()

		for _, zf := range zr.File {
			if zf.FileInfo().IsDir() {
				continue
			}
			if err := visit(zf.Name, zf.Open); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%s: %w", filepath.Base(archivePath), ErrUnsupportedFormat)
}
