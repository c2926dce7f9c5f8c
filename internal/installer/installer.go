// Package installer ties resolution, artifact download and the registry
// together for the install and publish commands.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/frederic-klein/llamapkg/internal/downloader"
	"github.com/frederic-klein/llamapkg/internal/extractor"
	"github.com/frederic-klein/llamapkg/internal/lockfile"
	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/registry"
	"github.com/frederic-klein/llamapkg/internal/resolver"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// ErrNoArtifact is returned when a resolved version has no download
// locator.
var ErrNoArtifact = errors.New("no artifact recorded")

// Catalog returns the published record of one package version.
type Catalog interface {
	Release(ctx context.Context, name string, v version.Version) (*model.PackageVersion, error)
}

// Catalogs asks each catalog in turn; the first answer wins.
type Catalogs []Catalog

func (c Catalogs) Release(ctx context.Context, name string, v version.Version) (*model.PackageVersion, error) {
	var errs []error
	for _, cat := range c {
		pv, err := cat.Release(ctx, name, v)
		if err == nil {
			return pv, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("package %s version %s: %w", name, v, registry.ErrNotFound)
	}
	return nil, errors.Join(errs...)
}

// Installer installs resolved packages into an install directory and
// publishes package sources to the registry.
type Installer struct {
	registry    *registry.Index
	resolver    *resolver.Resolver
	downloader  *downloader.Downloader
	extractor   *extractor.Extractor
	catalog     Catalog
	installDir  string
	registryURL string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures an Installer.
type Option func(*Installer)

// WithCatalog replaces the registry as the source of download locators,
// e.g. to add an upstream registry after it.
func WithCatalog(c Catalog) Option {
	return func(in *Installer) {
		in.catalog = c
	}
}

// WithRegistryURL records url in lock file purls.
func WithRegistryURL(url string) Option {
	return func(in *Installer) {
		in.registryURL = url
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Installer) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithMetrics records install outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Installer) {
		in.metrics = m
	}
}

// New creates an Installer writing into installDir.
func New(reg *registry.Index, res *resolver.Resolver, dl *downloader.Downloader, installDir string, opts ...Option) *Installer {
	in := &Installer{
		registry:   reg,
		resolver:   res,
		downloader: dl,
		extractor:  extractor.NewExtractor(),
		catalog:    reg,
		installDir: installDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// InstallDir returns the install directory.
func (in *Installer) InstallDir() string {
	return in.installDir
}

// LockPath returns the lock file written by Install.
func (in *Installer) LockPath() string {
	return filepath.Join(in.installDir, lockfile.FileName)
}

// Install resolves roots and materializes every package that is not
// already installed. installed may be nil to consult the resolver's probe.
//
// On a download or unpack failure the returned Resolution holds every
// package that was attempted, together with the first error. Packages
// installed before the failure stay installed and are recorded in the
// lock file.
func (in *Installer) Install(ctx context.Context, roots []model.Requirement, installed map[string]string) (resolver.Resolution, error) {
	res, err := in.install(ctx, roots, installed)
	in.metrics.ObserveInstall(installOutcome(err))
	return res, err
}

func (in *Installer) install(ctx context.Context, roots []model.Requirement, installed map[string]string) (resolver.Resolution, error) {
	plan, err := in.resolver.Resolve(ctx, roots, installed)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		in.logger.Info("nothing to install")
		return plan, nil
	}

	jobs := make([]downloader.Job, 0, len(plan))
	requires := make(map[string]map[string]string, len(plan))
	for _, name := range plan.Names() {
		v := plan[name]
		pv, err := in.catalog.Release(ctx, name, v)
		if err != nil {
			return nil, fmt.Errorf("looking up %s %s: %w", name, v, err)
		}
		if pv.DownloadURL == "" {
			return nil, fmt.Errorf("%s %s: %w", name, v, ErrNoArtifact)
		}
		jobs = append(jobs, downloader.Job{
			Name:    name,
			Version: v.String(),
			Locator: pv.DownloadURL,
			SHA256:  pv.SHA256,
		})
		requires[name] = maps.Clone(pv.Dependencies)
	}

	results, dlErr := in.downloader.Download(ctx, jobs)

	attempted := make(resolver.Resolution, len(results))
	var entries []*lockfile.Entry
	var unpackErr error
	for _, r := range results {
		attempted[r.Job.Name] = plan[r.Job.Name]
		if r.Error != nil || unpackErr != nil {
			continue
		}
		if err := in.unpack(r.Job.Name, r.Path); err != nil {
			unpackErr = fmt.Errorf("installing %s %s: %w", r.Job.Name, r.Job.Version, err)
			continue
		}
		entries = append(entries, &lockfile.Entry{
			Name:         r.Job.Name,
			Version:      r.Job.Version,
			PURL:         lockfile.PURL(r.Job.Name, r.Job.Version, in.registryURL),
			Locator:      r.Job.Locator,
			SHA256:       r.Job.SHA256,
			Path:         r.Job.Name,
			Requirements: requires[r.Job.Name],
		})
		in.logger.Info("installed package", "name", r.Job.Name, "version", r.Job.Version)
	}

	if len(entries) > 0 {
		if err := in.writeLock(entries); err != nil {
			return attempted, errors.Join(dlErr, unpackErr, err)
		}
	}
	if err := errors.Join(dlErr, unpackErr); err != nil {
		return attempted, err
	}
	return attempted, nil
}

// unpack replaces <installDir>/<name> with the archive's contents.
func (in *Installer) unpack(name, archivePath string) error {
	dest := filepath.Join(in.installDir, name)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("removing previous install: %w", err)
	}
	return in.extractor.Unpack(archivePath, dest)
}

func (in *Installer) writeLock(entries []*lockfile.Entry) error {
	existing, err := lockfile.Read(in.LockPath())
	if err != nil {
		in.logger.Warn("rewriting unreadable lock file", "path", in.LockPath(), "error", err)
		existing = nil
	}
	return lockfile.Write(in.LockPath(), lockfile.Merge(existing, entries))
}

// Publish reads the manifest of a package source directory or archive
// and publishes it. Directories are packed into a .tar.gz first.
func (in *Installer) Publish(ctx context.Context, path, credentials string) (*model.PackageVersion, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("publishing %s: %w", path, err)
	}

	var m *model.Manifest
	archive := path
	if info.IsDir() {
		m, err = in.extractor.ManifestFromDir(path)
		if err != nil {
			return nil, err
		}
		tmp, err := os.MkdirTemp("", "llamapkg-publish-")
		if err != nil {
			return nil, fmt.Errorf("creating staging dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		archive, err = in.extractor.Pack(path, tmp, m.Name, m.Version)
		if err != nil {
			return nil, err
		}
	} else {
		m, err = in.extractor.Manifest(path)
		if err != nil {
			return nil, err
		}
	}

	in.logger.Debug("publishing", "name", m.Name, "version", m.Version, "archive", archive)
	return in.registry.Publish(ctx, registry.PublishRequest{
		Name:         m.Name,
		Version:      m.Version,
		ArtifactPath: archive,
		Metadata:     m.Metadata(),
		Dependencies: m.Dependencies,
		Credentials:  credentials,
		Describe:     m.ApplyTo,
	})
}

func installOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, resolver.ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, version.ErrInvalidConstraint), errors.Is(err, version.ErrInvalidVersion):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
