package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/frederic-klein/llamapkg/internal/auth"
	"github.com/frederic-klein/llamapkg/internal/config"
	"github.com/frederic-klein/llamapkg/internal/downloader"
	"github.com/frederic-klein/llamapkg/internal/fetch"
	"github.com/frederic-klein/llamapkg/internal/index"
	"github.com/frederic-klein/llamapkg/internal/installer"
	"github.com/frederic-klein/llamapkg/internal/lockfile"
	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/registry"
	"github.com/frederic-klein/llamapkg/internal/resolver"
	"github.com/frederic-klein/llamapkg/internal/storage"
)

// app is every component wired from one configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	authority *auth.Authority
	registry  *registry.Index
	resolver  *resolver.Resolver
	installer *installer.Installer

	closers []func() error
}

type appOptions struct {
	configPath string
	verbose    bool
	installDir string
	runtime    bool // register Go runtime collectors
	logOutput  io.Writer
}

func newApp(opts appOptions) (_ *app, err error) {
	path := opts.configPath
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.installDir != "" {
		cfg.InstallDir = opts.installDir
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(opts.runtime),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	f := fetch.NewFetcher(
		fetch.WithTimeout(cfg.HTTPTimeout),
		fetch.WithMaxRetries(cfg.MaxRetries),
	)
	a.closers = append(a.closers, func() error { f.Close(); return nil })
	getter := fetch.NewBreakerFetcher(f, 5)

	idx, err := a.openIndexStore()
	if err != nil {
		return nil, err
	}
	artifacts, err := a.openArtifactStore(getter)
	if err != nil {
		return nil, err
	}

	users, err := auth.LoadUsers(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	a.authority = auth.New(cfg.JWTSecret, users)

	a.registry = registry.New(storage.New(idx, artifacts),
		registry.WithAuthorizer(a.authority),
		registry.WithLogger(logger),
		registry.WithMetrics(a.metrics),
	)

	var source resolver.Source = a.registry
	var catalog installer.Catalog = a.registry
	if cfg.RegistryURL != "" {
		up := index.NewUpstream(cfg.RegistryURL, filepath.Join(cfg.CacheDir(), "upstream"), getter,
			index.WithCacheTTL(cfg.CacheTTL),
			index.WithLogger(logger),
			index.WithMetrics(a.metrics),
		)
		source = resolver.Chain{a.registry, up}
		catalog = installer.Catalogs{a.registry, up}
	}

	a.resolver = resolver.New(source,
		resolver.WithProbe(lockfile.NewProbe(cfg.InstallDir)),
		resolver.WithStrict(cfg.StrictResolution),
		resolver.WithLogger(logger),
		resolver.WithMetrics(a.metrics),
	)

	dl := downloader.NewDownloader(cfg.Workers, filepath.Join(cfg.CacheDir(), "artifacts"), artifacts, logger, a.metrics)
	a.installer = installer.New(a.registry, a.resolver, dl, cfg.InstallDir,
		installer.WithCatalog(catalog),
		installer.WithRegistryURL(cfg.RegistryURL),
		installer.WithLogger(logger),
		installer.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) openIndexStore() (storage.IndexStore, error) {
	switch a.cfg.IndexBackend {
	case config.IndexBadger:
		store, err := storage.OpenBadgerIndexStore(storage.BadgerConfig{
			Path:       a.cfg.IndexPath(),
			SyncWrites: true,
			Logger:     a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return storage.NewFileIndexStore(a.cfg.IndexPath()), nil
	}
}

func (a *app) openArtifactStore(getter fetch.Getter) (storage.ArtifactStore, error) {
	switch a.cfg.ArtifactBackend {
	case config.ArtifactS3:
		client := storage.NewS3Client(a.cfg.S3)
		return storage.NewS3Artifacts(client, a.cfg.S3.Bucket, a.cfg.S3.Prefix, getter), nil
	default:
		if err := os.MkdirAll(a.cfg.ArtifactDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating artifact dir: %w", err)
		}
		return storage.NewLocalArtifacts(a.cfg.ArtifactDir(), getter), nil
	}
}

// Close releases databases and background goroutines.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
