// Package index reads package records from an upstream registry over its
// HTTP API and caches them on disk.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/frederic-klein/llamapkg/internal/fetch"
	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/version"
)

const defaultCacheTTL = 24 * time.Hour

// PackageRecord is the upstream answer for GET /api/v1/packages/{name}.
type PackageRecord struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Versions    map[string]json.RawMessage `json:"versions"`
}

// VersionRecord is the upstream answer for
// GET /api/v1/packages/{name}/{version}.
type VersionRecord struct {
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	DownloadURL  string            `json:"download_url,omitempty"`
	SHA256       string            `json:"sha256,omitempty"`
}

// Upstream is a read-only view of a remote registry. Lookup failures are
// logged and reported as "no versions" / "no dependencies".
type Upstream struct {
	baseURL  string
	cacheDir string
	ttl      time.Duration
	getter   fetch.Getter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Upstream.
type Option func(*Upstream)

// WithCacheTTL sets how long cached records stay fresh.
func WithCacheTTL(d time.Duration) Option {
	return func(u *Upstream) {
		if d > 0 {
			u.ttl = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Upstream) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithMetrics records cache hits, fetches and errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Upstream) {
		u.metrics = m
	}
}

// NewUpstream creates an upstream view of the registry at baseURL. An empty
// cacheDir disables the disk cache.
func NewUpstream(baseURL, cacheDir string, getter fetch.Getter, opts ...Option) *Upstream {
	u := &Upstream{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		cacheDir: cacheDir,
		ttl:      defaultCacheTTL,
		getter:   getter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// BaseURL returns the upstream registry URL.
func (u *Upstream) BaseURL() string {
	return u.baseURL
}

// Package returns the upstream record for name.
func (u *Upstream) Package(ctx context.Context, name string) (*PackageRecord, error) {
	if !model.ValidName(name) {
		return nil, fmt.Errorf("invalid package name %q", name)
	}
	endpoint := fmt.Sprintf("%s/api/v1/packages/%s", u.baseURL, url.PathEscape(name))

	var rec PackageRecord
	if err := u.cachedJSON(ctx, endpoint, name+".json", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Version returns the upstream record for one version. raw is the version
// key exactly as the upstream spells it.
func (u *Upstream) Version(ctx context.Context, name, raw string) (*VersionRecord, error) {
	if !model.ValidName(name) {
		return nil, fmt.Errorf("invalid package name %q", name)
	}
	endpoint := fmt.Sprintf("%s/api/v1/packages/%s/%s", u.baseURL, url.PathEscape(name), url.PathEscape(raw))

	var rec VersionRecord
	if err := u.cachedJSON(ctx, endpoint, filepath.Join(name, url.PathEscape(raw)+".json"), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Versions lists upstream versions of name, coercing ragged version
// strings. Any failure yields no versions.
func (u *Upstream) Versions(ctx context.Context, name string) ([]version.Version, error) {
	raw, err := u.rawVersions(ctx, name)
	if err != nil {
		u.logger.Error("error getting available versions", "package", name, "error", err)
		return nil, nil
	}
	out := make([]version.Version, 0, len(raw))
	for v := range raw {
		out = append(out, v)
	}
	slices.SortFunc(out, version.Compare)
	return out, nil
}

// Dependencies returns the dependency map of name at v. Any failure yields
// no dependencies.
func (u *Upstream) Dependencies(ctx context.Context, name string, v version.Version) (map[string]string, error) {
	raw, err := u.rawVersions(ctx, name)
	if err != nil {
		u.logger.Error("error getting dependencies", "package", name, "version", v.String(), "error", err)
		return map[string]string{}, nil
	}
	key, ok := raw[v]
	if !ok {
		key = v.String()
	}

	rec, err := u.Version(ctx, name, key)
	if err != nil {
		u.logger.Error("error getting dependencies", "package", name, "version", v.String(), "error", err)
		return map[string]string{}, nil
	}
	if rec.Dependencies == nil {
		return map[string]string{}, nil
	}
	return rec.Dependencies, nil
}

// Release returns the upstream record for name at v as a PackageVersion.
// Unlike Dependencies, failures are returned.
func (u *Upstream) Release(ctx context.Context, name string, v version.Version) (*model.PackageVersion, error) {
	raw, err := u.rawVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	key, ok := raw[v]
	if !ok {
		return nil, fmt.Errorf("upstream %s has no %s %s", u.baseURL, name, v)
	}
	rec, err := u.Version(ctx, name, key)
	if err != nil {
		return nil, err
	}
	deps := rec.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	return &model.PackageVersion{
		Version:      v,
		Dependencies: deps,
		DownloadURL:  rec.DownloadURL,
		SHA256:       rec.SHA256,
	}, nil
}

// rawVersions maps each coerced version to the upstream's own spelling.
func (u *Upstream) rawVersions(ctx context.Context, name string) (map[version.Version]string, error) {
	rec, err := u.Package(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[version.Version]string, len(rec.Versions))
	for key := range rec.Versions {
		v, err := version.Coerce(key)
		if err != nil {
			u.logger.Warn("skipping unreadable upstream version", "package", name, "version", key)
			continue
		}
		out[v] = key
	}
	return out, nil
}

// cachedJSON decodes endpoint into v, serving from the cache file when it
// is younger than the TTL.
func (u *Upstream) cachedJSON(ctx context.Context, endpoint, cacheName string, v any) error {
	cacheFile := ""
	if u.cacheDir != "" {
		cacheFile = filepath.Join(u.cacheDir, cacheName)
		if u.isCacheValid(cacheFile) {
			data, err := os.ReadFile(cacheFile)
			if err == nil && json.Unmarshal(data, v) == nil {
				u.metrics.ObserveUpstream("cache_hit")
				return nil
			}
		}
	}

	resp, err := u.getter.Get(ctx, endpoint)
	if err != nil {
		u.metrics.ObserveUpstream("error")
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var data json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		u.metrics.ObserveUpstream("error")
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		u.metrics.ObserveUpstream("error")
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	u.metrics.ObserveUpstream("fetched")

	if cacheFile != "" {
		if err := writeCache(cacheFile, data); err != nil {
			u.logger.Warn("could not write upstream cache", "file", cacheFile, "error", err)
		}
	}
	return nil
}

func (u *Upstream) isCacheValid(cacheFile string) bool {
	info, err := os.Stat(cacheFile)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < u.ttl
}

func writeCache(cacheFile string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(cacheFile), 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp := cacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, cacheFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}
