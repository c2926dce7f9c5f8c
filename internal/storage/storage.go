// Package storage persists the registry index document and package
// artifacts. Index and artifact backends are chosen independently.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/frederic-klein/llamapkg/internal/model"
)

// ErrStorage marks every failure reported by this package.
var ErrStorage = errors.New("storage failure")

// Error describes a failed storage operation.
type Error struct {
	Op      string // "get_index", "save_index", "upload", "download", "installed_versions"
	Name    string
	Version string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Version != "":
		return fmt.Sprintf("storage %s %s %s: %v", e.Op, e.Name, e.Version, e.Err)
	case e.Name != "":
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Name, e.Err)
	default:
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Index is the persisted registry document: package name -> package record.
type Index map[string]*model.Package

// IndexStore reads and fully rewrites the index document.
type IndexStore interface {
	GetIndex(ctx context.Context) (Index, error)
	SaveIndex(ctx context.Context, idx Index) error
}

// Upload is the result of persisting an artifact.
type Upload struct {
	Locator string // file://, s3:// or http(s):// URL
	SHA256  string
}

// ArtifactStore persists artifacts and materializes them on request.
type ArtifactStore interface {
	Upload(ctx context.Context, name, version, artifactPath string) (Upload, error)
	// Download places the artifact for (name, version) under destDir and
	// returns the file path. An empty destDir returns the store's own copy
	// when it has one.
	Download(ctx context.Context, name, version, locator, destDir string) (string, error)
	InstalledVersions(ctx context.Context, name string) ([]string, error)
}

// Storage is the full collaborator consumed by the registry and installer.
type Storage interface {
	IndexStore
	ArtifactStore
}

// Store combines an IndexStore and an ArtifactStore.
type Store struct {
	IndexStore
	ArtifactStore
}

// New combines idx and artifacts into a Storage.
func New(idx IndexStore, artifacts ArtifactStore) *Store {
	return &Store{IndexStore: idx, ArtifactStore: artifacts}
}
