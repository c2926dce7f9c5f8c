// Package registry holds the in-memory registry index and the operations
// that read and mutate it. All state lives on an *Index handle; there is
// no package-level registry.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/storage"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// Authorizer authenticates publish credentials and decides ownership.
type Authorizer interface {
	// Verify returns the user named by credentials.
	Verify(credentials string) (string, error)
	CanPublish(user, name string) bool
}

// Index is the registry handle. It is safe for concurrent use.
type Index struct {
	store   storage.Storage
	auth    Authorizer
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// publishMu serializes whole publish operations; mu guards the map.
	publishMu sync.Mutex
	mu        sync.RWMutex
	loaded    bool
	packages  map[string]*model.Package
}

// Option configures an Index.
type Option func(*Index)

// WithAuthorizer sets the publish authorizer. Without one every publish
// is rejected.
func WithAuthorizer(a Authorizer) Option {
	return func(r *Index) {
		r.auth = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Index) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records publish outcomes and index size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Index) {
		r.metrics = m
	}
}

// WithClock overrides the upload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Index) {
		r.now = now
	}
}

// New creates an unloaded index backed by store.
func New(store storage.Storage, opts ...Option) *Index {
	r := &Index{
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		packages: make(map[string]*model.Package),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load populates the index from storage the first time it is called and
// is a no-op afterwards. A read failure is logged and leaves the index
// empty.
func (r *Index) Load(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(ctx)
}

func (r *Index) loadLocked(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true

	idx, err := r.store.GetIndex(ctx)
	if err != nil {
		r.logger.Error("failed to load package index, starting empty", "error", err)
		return
	}
	for name, pkg := range idx {
		if pkg == nil {
			continue
		}
		if pkg.Name == "" {
			pkg.Name = name
		}
		r.rekeyVersions(pkg)
		r.packages[name] = pkg
	}
	r.logger.Debug("package index loaded", "packages", len(r.packages))
	r.metrics.SetIndexPackages(len(r.packages))
}

// rekeyVersions keys every stored version by its canonical string. When
// two records share a canonical version the one already stored under it
// wins and the other is dropped.
func (r *Index) rekeyVersions(pkg *model.Package) {
	keys := slices.Sorted(maps.Keys(pkg.Versions))
	versions := make(map[string]*model.PackageVersion, len(keys))
	for _, canonicalOnly := range []bool{true, false} {
		for _, key := range keys {
			pv := pkg.Versions[key]
			if pv == nil {
				continue
			}
			canonical := pv.Version.String()
			if (key == canonical) != canonicalOnly {
				continue
			}
			if _, dup := versions[canonical]; dup {
				r.logger.Warn("dropping duplicate stored version", "package", pkg.Name, "key", key, "version", canonical)
				continue
			}
			versions[canonical] = pv
		}
	}
	pkg.Versions = versions
}

// ensureLoaded loads under the write lock only when needed, so readers
// can then proceed with the read lock.
func (r *Index) ensureLoaded(ctx context.Context) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		r.Load(ctx)
	}
}

// Save writes the whole in-memory index to storage.
func (r *Index) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(ctx)
}

func (r *Index) saveLocked(ctx context.Context) error {
	idx := make(storage.Index, len(r.packages))
	for name, pkg := range r.packages {
		idx[name] = pkg
	}
	if err := r.store.SaveIndex(ctx, idx); err != nil {
		r.logger.Error("failed to save package index", "error", err)
		return fmt.Errorf("saving index: %w", err)
	}
	return nil
}

// Get returns a copy of the named package.
func (r *Index) Get(ctx context.Context, name string) (*model.Package, bool) {
	r.ensureLoaded(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, ok := r.packages[name]
	if !ok {
		return nil, false
	}
	return pkg.Clone(), true
}

// List returns every package sorted by name.
func (r *Index) List(ctx context.Context) []*model.Package {
	r.ensureLoaded(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Package, 0, len(r.packages))
	for _, pkg := range r.packages {
		out = append(out, pkg.Clone())
	}
	sortByName(out)
	return out
}

// Search returns packages whose name, description or any keyword contains
// query, case-insensitively. Each package appears at most once.
func (r *Index) Search(ctx context.Context, query string) []*model.Package {
	r.ensureLoaded(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*model.Package
	for _, pkg := range r.packages {
		if matches(pkg, q) {
			out = append(out, pkg.Clone())
		}
	}
	sortByName(out)
	return out
}

func matches(pkg *model.Package, q string) bool {
	if strings.Contains(strings.ToLower(pkg.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(pkg.Description), q) {
		return true
	}
	for _, kw := range pkg.Keywords {
		if strings.Contains(strings.ToLower(kw), q) {
			return true
		}
	}
	return false
}

func sortByName(pkgs []*model.Package) {
	slices.SortFunc(pkgs, func(a, b *model.Package) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// AddOrUpdate replaces any package with the same name and saves the index.
// The in-memory index keeps the new record even when the save fails.
func (r *Index) AddOrUpdate(ctx context.Context, pkg *model.Package) error {
	r.ensureLoaded(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.packages[pkg.Name] = pkg
	r.metrics.SetIndexPackages(len(r.packages))
	return r.saveLocked(ctx)
}

// Versions returns the published versions of name in ascending order.
// An unknown package has no versions.
func (r *Index) Versions(ctx context.Context, name string) ([]version.Version, error) {
	r.ensureLoaded(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, ok := r.packages[name]
	if !ok {
		return nil, nil
	}
	return pkg.SortedVersions(), nil
}

// Dependencies returns the dependency map recorded for name at v.
func (r *Index) Dependencies(ctx context.Context, name string, v version.Version) (map[string]string, error) {
	r.ensureLoaded(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, ok := r.packages[name]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", name, ErrNotFound)
	}
	pv, ok := pkg.Get(v)
	if !ok {
		return nil, fmt.Errorf("package %s version %s: %w", name, v, ErrNotFound)
	}
	return pv.Dependencies, nil
}

// Release returns a copy of the version record for name at v.
func (r *Index) Release(ctx context.Context, name string, v version.Version) (*model.PackageVersion, error) {
	r.ensureLoaded(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, ok := r.packages[name]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", name, ErrNotFound)
	}
	pv, ok := pkg.Get(v)
	if !ok {
		return nil, fmt.Errorf("package %s version %s: %w", name, v, ErrNotFound)
	}
	c := *pv
	return &c, nil
}
