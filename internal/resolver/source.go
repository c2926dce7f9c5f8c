package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/frederic-klein/llamapkg/internal/version"
)

// Chain consults sources in order. The first source that knows any
// version of a package answers for it.
type Chain []Source

// Versions returns the versions reported by the first source with a
// non-empty answer. Errors from earlier sources are skipped when a later
// source answers.
func (c Chain) Versions(ctx context.Context, name string) ([]version.Version, error) {
	var errs []error
	for _, s := range c {
		vs, err := s.Versions(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(vs) > 0 {
			return vs, nil
		}
	}
	return nil, errors.Join(errs...)
}

// Dependencies returns the first successful answer.
func (c Chain) Dependencies(ctx context.Context, name string, v version.Version) (map[string]string, error) {
	var errs []error
	for _, s := range c {
		deps, err := s.Dependencies(ctx, name, v)
		if err == nil {
			return deps, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no source for %s %s", name, v)
	}
	return nil, errors.Join(errs...)
}
