package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a package, version or download locator
	// is missing.
	ErrNotFound = errors.New("not found")

	// ErrVersionExists is returned when publishing an already published
	// (name, version) pair.
	ErrVersionExists = errors.New("version already exists")

	// ErrUnauthorized is returned when the caller may not publish.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidName is returned for package names that fail validation.
	ErrInvalidName = errors.New("invalid package name")
)

// VersionExistsError names the pair that was already published.
type VersionExistsError struct {
	Name    string
	Version string
}

func (e *VersionExistsError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Name, e.Version, ErrVersionExists)
}

func (e *VersionExistsError) Unwrap() error {
	return ErrVersionExists
}
