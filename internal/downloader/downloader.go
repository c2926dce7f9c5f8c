// Package downloader materializes package artifacts in parallel.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/storage"
)

// ErrChecksumMismatch is returned when a downloaded artifact does not
// match its recorded sha256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Job is one artifact to materialize.
type Job struct {
	Name    string
	Version string
	Locator string
	SHA256  string // optional
}

// Result is the outcome of an attempted job.
type Result struct {
	Job   Job
	Path  string
	Error error
}

// Downloader fetches artifacts through an ArtifactStore into a cache
// directory laid out as <cacheDir>/<name>/<version>/<file>.
type Downloader struct {
	workers  int
	cacheDir string
	store    storage.ArtifactStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDownloader creates a downloader running at most workers jobs at once.
func NewDownloader(workers int, cacheDir string, store storage.ArtifactStore, logger *slog.Logger, m *metrics.Metrics) *Downloader {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		workers:  workers,
		cacheDir: cacheDir,
		store:    store,
		logger:   logger,
		metrics:  m,
	}
}

// Download runs jobs until all succeed or one fails. After the first
// failure no new job is started; jobs already running finish. The returned
// results cover every attempted job, in job order, and the error is the
// first failure.
func (d *Downloader) Download(ctx context.Context, jobs []Job) ([]Result, error) {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	results := make([]Result, len(jobs))
	attempted := make([]bool, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			attempted[i] = true
			p, err := d.downloadOne(gctx, job)
			results[i] = Result{Job: job, Path: p, Error: err}
			d.metrics.ObserveArtifact(err == nil)
			if err != nil {
				d.logger.Error("artifact download failed", "package", job.Name, "version", job.Version, "error", err)
				return fmt.Errorf("downloading %s %s: %w", job.Name, job.Version, err)
			}
			d.logger.Debug("artifact ready", "package", job.Name, "version", job.Version, "path", p)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	out := make([]Result, 0, len(jobs))
	for i := range jobs {
		if attempted[i] {
			out = append(out, results[i])
		}
	}
	return out, err
}

func (d *Downloader) downloadOne(ctx context.Context, job Job) (string, error) {
	destDir := d.DestDir(job.Name, job.Version)

	// Reuse a previous download when its checksum still matches.
	if name := locatorFile(job.Locator); name != "" && job.SHA256 != "" {
		cached := filepath.Join(destDir, name)
		if sum, err := storage.HashFile(cached); err == nil && sum == job.SHA256 {
			return cached, nil
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	p, err := d.store.Download(ctx, job.Name, job.Version, job.Locator, destDir)
	if err != nil {
		return "", err
	}

	if job.SHA256 != "" {
		sum, err := storage.HashFile(p)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", p, err)
		}
		if sum != job.SHA256 {
			os.Remove(p)
			return "", fmt.Errorf("%w: %s has %s, want %s", ErrChecksumMismatch, filepath.Base(p), sum, job.SHA256)
		}
	}
	return p, nil
}

// DestDir returns the cache directory for one package version.
func (d *Downloader) DestDir(name, version string) string {
	return filepath.Join(d.cacheDir, name, version)
}

// CacheDir returns the cache directory.
func (d *Downloader) CacheDir() string {
	return d.cacheDir
}

func locatorFile(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Path == "" {
		return ""
	}
	return path.Base(u.Path)
}
