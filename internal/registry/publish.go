package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// PublishRequest describes one version to publish.
type PublishRequest struct {
	Name         string
	Version      string
	ArtifactPath string
	Metadata     map[string]any
	Dependencies map[string]string
	Credentials  string

	// Describe, when set, copies descriptive fields (description, author,
	// keywords...) onto the package record.
	Describe func(*model.Package)
}

// Publish validates and stores a new version. Nothing is mutated when the
// version is malformed, the caller is not authorized, or the version is
// already published.
func (r *Index) Publish(ctx context.Context, req PublishRequest) (*model.PackageVersion, error) {
	pv, err := r.publish(ctx, req)
	r.metrics.ObservePublish(publishOutcome(err))
	return pv, err
}

func (r *Index) publish(ctx context.Context, req PublishRequest) (*model.PackageVersion, error) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	v, err := version.Parse(req.Version)
	if err != nil {
		return nil, err
	}
	if !model.ValidName(req.Name) {
		return nil, fmt.Errorf("%q: %w", req.Name, ErrInvalidName)
	}
	for dep, c := range req.Dependencies {
		if _, err := version.ParseConstraint(c); err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dep, err)
		}
	}

	if r.auth == nil {
		return nil, fmt.Errorf("%w: no authorizer configured", ErrUnauthorized)
	}
	user, err := r.auth.Verify(req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !r.auth.CanPublish(user, req.Name) {
		return nil, fmt.Errorf("%w: user %s may not publish %s", ErrUnauthorized, user, req.Name)
	}

	pkg, ok := r.Get(ctx, req.Name)
	if !ok {
		pkg = model.NewPackage(req.Name)
	}
	if pkg.HasVersion(v) {
		return nil, &VersionExistsError{Name: req.Name, Version: v.String()}
	}

	up, err := r.store.Upload(ctx, req.Name, v.String(), req.ArtifactPath)
	if err != nil {
		return nil, err
	}

	pv := &model.PackageVersion{
		Version:      v,
		UploadedAt:   r.now().UTC(),
		Metadata:     maps.Clone(req.Metadata),
		Dependencies: maps.Clone(req.Dependencies),
		DownloadURL:  up.Locator,
		SHA256:       up.SHA256,
	}
	if pv.Dependencies == nil {
		pv.Dependencies = map[string]string{}
	}
	if req.Describe != nil {
		req.Describe(pkg)
	}
	pkg.AddVersion(pv)

	r.logger.Info("published package", "name", req.Name, "version", v.String(), "user", user, "locator", up.Locator)
	if err := r.AddOrUpdate(ctx, pkg); err != nil {
		return pv, err
	}
	return pv, nil
}

func publishOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrVersionExists):
		return metrics.OutcomeExists
	case errors.Is(err, ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, version.ErrInvalidVersion), errors.Is(err, version.ErrInvalidConstraint), errors.Is(err, ErrInvalidName):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

// Download materializes the artifact for name at ver into destDir and
// returns its path. An empty ver selects the latest published version.
func (r *Index) Download(ctx context.Context, name, ver, destDir string) (string, error) {
	pkg, ok := r.Get(ctx, name)
	if !ok {
		return "", fmt.Errorf("package %s: %w", name, ErrNotFound)
	}

	var pv *model.PackageVersion
	if ver == "" {
		pv, ok = pkg.Latest()
		if !ok {
			return "", fmt.Errorf("package %s has no versions: %w", name, ErrNotFound)
		}
	} else {
		v, err := version.Parse(ver)
		if err != nil {
			return "", err
		}
		pv, ok = pkg.Get(v)
		if !ok {
			return "", fmt.Errorf("package %s version %s: %w", name, ver, ErrNotFound)
		}
	}
	if pv.DownloadURL == "" {
		return "", fmt.Errorf("package %s version %s has no download locator: %w", name, pv.Version, ErrNotFound)
	}

	return r.store.Download(ctx, name, pv.Version.String(), pv.DownloadURL, destDir)
}
