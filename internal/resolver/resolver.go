// Package resolver computes the set of package versions to install for a
// list of root requirements.
//
// Resolution is greedy and depth-first: each package is settled on first
// encounter at the greatest version satisfying every constraint recorded
// for it so far. A settled package is never re-selected by default; a
// later constraint that rejects the settled version is reported as a
// conflict. Strict mode re-selects instead.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/frederic-klein/llamapkg/internal/metrics"
	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// RootRequirer is the requirer id recorded for root requirements. It is
// not a valid package name, so no dependency can take its place.
const RootRequirer = "<root>"

var (
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("dependency conflict")

	// ErrDuplicateRoot is returned when one package is named twice among
	// the root requirements.
	ErrDuplicateRoot = errors.New("package required more than once")
)

// ConflictError reports a package for which no known version satisfies
// every recorded constraint.
type ConflictError struct {
	Package   string
	Requirers map[string]string // requirer -> constraint
}

func (e *ConflictError) Error() string {
	requirers := slices.Sorted(maps.Keys(e.Requirers))
	parts := make([]string, 0, len(requirers))
	for _, req := range requirers {
		parts = append(parts, fmt.Sprintf("%s requires %s", req, displayConstraint(e.Requirers[req])))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("dependency conflict for %s: no versions available", e.Package)
	}
	return fmt.Sprintf("dependency conflict for %s: %s", e.Package, strings.Join(parts, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func displayConstraint(c string) string {
	if strings.TrimSpace(c) == "" {
		return "any version"
	}
	return c
}

// Source lists known versions of a package and the dependencies of one
// version.
type Source interface {
	Versions(ctx context.Context, name string) ([]version.Version, error)
	Dependencies(ctx context.Context, name string, v version.Version) (map[string]string, error)
}

// InstalledProbe reports the packages already installed, name -> version.
type InstalledProbe interface {
	Installed(ctx context.Context) (map[string]string, error)
}

// ProbeFunc adapts a function to InstalledProbe.
type ProbeFunc func(ctx context.Context) (map[string]string, error)

func (f ProbeFunc) Installed(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

// Resolution maps package name to the version chosen for install.
type Resolution map[string]version.Version

// Names returns the resolved package names in sorted order.
func (r Resolution) Names() []string {
	return slices.Sorted(maps.Keys(r))
}

// Resolver resolves root requirements against a Source.
type Resolver struct {
	source  Source
	probe   InstalledProbe
	strict  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProbe sets the probe consulted when Resolve is called without an
// installed set.
func WithProbe(p InstalledProbe) Option {
	return func(r *Resolver) {
		r.probe = p
	}
}

// WithStrict re-selects an already settled package when a later
// constraint rejects the version chosen for it, instead of failing.
func WithStrict(strict bool) Option {
	return func(r *Resolver) {
		r.strict = strict
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records resolution outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// New creates a resolver over source.
func New(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strict reports whether strict mode is enabled.
func (r *Resolver) Strict() bool {
	return r.strict
}

// Resolve computes the versions to install for roots. When installed is
// nil the probe supplies it. Installed packages that satisfy the
// constraint they are reached with are left out of the result.
//
// A *ConflictError is returned when some package cannot be satisfied. A
// malformed constraint is returned as the *version.ParseError produced by
// parsing it.
func (r *Resolver) Resolve(ctx context.Context, roots []model.Requirement, installed map[string]string) (Resolution, error) {
	start := time.Now()
	res, err := r.resolve(ctx, roots, installed)

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, ErrConflict):
		outcome = metrics.OutcomeConflict
	case err != nil:
		outcome = metrics.OutcomeError
	}
	r.metrics.ObserveResolve(outcome, time.Since(start), len(res))
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, roots []model.Requirement, installed map[string]string) (Resolution, error) {
	if installed == nil && r.probe != nil {
		probed, err := r.probe.Installed(ctx)
		if err != nil {
			return nil, fmt.Errorf("probing installed packages: %w", err)
		}
		installed = probed
	}

	st := newState(r.installedVersions(installed))
	for _, root := range roots {
		if _, dup := st.required[root.Name][RootRequirer]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoot, root.Name)
		}
		st.require(root.Name, RootRequirer, root.Constraint)
	}
	for _, root := range roots {
		if err := r.resolveOne(ctx, st, root.Name, root.Constraint); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("resolution complete", "roots", len(roots), "to_install", len(st.toInstall))
	return st.toInstall, nil
}

func (r *Resolver) installedVersions(installed map[string]string) map[string]version.Version {
	out := make(map[string]version.Version, len(installed))
	for name, raw := range installed {
		v, err := version.Coerce(raw)
		if err != nil {
			r.logger.Warn("ignoring installed package with unreadable version", "package", name, "version", raw)
			continue
		}
		out[name] = v
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, st *state, pkg, constraint string) error {
	reselect := st.visited[pkg]
	if reselect {
		ok, err := st.currentChoiceHolds(pkg)
		if err != nil || ok {
			return err
		}
		if !r.strict {
			return st.conflict(pkg)
		}
		st.attempts[pkg]++
		if st.attempts[pkg] > maxReprocess {
			return st.conflict(pkg)
		}
		r.logger.Debug("re-processing package after new constraint", "package", pkg, "constraint", constraint)
	}
	st.visited[pkg] = true

	if have, ok := st.installed[pkg]; ok {
		satisfied, err := r.installedSatisfies(st, pkg, have, constraint)
		if err != nil {
			return err
		}
		if satisfied {
			r.logger.Debug("already installed", "package", pkg, "version", have.String())
			st.keptInstalled[pkg] = have
			delete(st.toInstall, pkg)
			st.dropRequirer(pkg)
			if reselect {
				r.pruneOrphans(st)
			}
			return nil
		}
	}

	best, err := r.bestVersion(ctx, st, pkg)
	if err != nil {
		return err
	}
	r.logger.Debug("selected version", "package", pkg, "version", best.String())
	st.toInstall[pkg] = best
	delete(st.keptInstalled, pkg)

	deps, err := r.source.Dependencies(ctx, pkg, best)
	if err != nil {
		return fmt.Errorf("dependencies of %s %s: %w", pkg, best, err)
	}

	st.dropRequirer(pkg)
	names := slices.Sorted(maps.Keys(deps))
	for _, dep := range names {
		st.require(dep, pkg, deps[dep])
	}
	if reselect {
		r.pruneOrphans(st)
	}
	for _, dep := range names {
		// A re-selection further down may have replaced or pruned pkg,
		// taking this edge with it.
		c, ok := st.required[dep][pkg]
		if !ok {
			continue
		}
		if err := r.resolveOne(ctx, st, dep, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) pruneOrphans(st *state) {
	for _, name := range st.pruneOrphans() {
		r.logger.Debug("dropping package no longer required", "package", name)
	}
}

// installedSatisfies checks an installed version against the constraint
// the package was reached with, or against every recorded constraint in
// strict mode.
func (r *Resolver) installedSatisfies(st *state, pkg string, have version.Version, constraint string) (bool, error) {
	if !r.strict {
		return version.Satisfies(have, constraint)
	}
	constraints, err := st.constraints(pkg)
	if err != nil {
		return false, err
	}
	return allowsAll(constraints, have), nil
}

// bestVersion returns the greatest known version of pkg that satisfies
// every constraint currently recorded for it.
func (r *Resolver) bestVersion(ctx context.Context, st *state, pkg string) (version.Version, error) {
	constraints, err := st.constraints(pkg)
	if err != nil {
		return version.Version{}, err
	}

	available, ok := st.versions[pkg]
	if !ok {
		available, err = r.source.Versions(ctx, pkg)
		if err != nil {
			return version.Version{}, fmt.Errorf("versions of %s: %w", pkg, err)
		}
		st.versions[pkg] = available
	}

	var (
		best  version.Version
		found bool
	)
	for _, v := range available {
		if !allowsAll(constraints, v) {
			continue
		}
		if !found || best.Less(v) {
			best, found = v, true
		}
	}
	if !found {
		return version.Version{}, st.conflict(pkg)
	}
	return best, nil
}

func allowsAll(constraints []version.Constraint, v version.Version) bool {
	for _, c := range constraints {
		if !c.Allows(v) {
			return false
		}
	}
	return true
}
