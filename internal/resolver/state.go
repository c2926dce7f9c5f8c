package resolver

import (
	"maps"
	"slices"

	"github.com/frederic-klein/llamapkg/internal/version"
)

// maxReprocess bounds how often strict mode may re-select one package.
const maxReprocess = 16

// state is the working set of one resolution run.
type state struct {
	required  map[string]map[string]string // package -> requirer -> constraint
	visited   map[string]bool
	toInstall Resolution

	installed     map[string]version.Version
	keptInstalled map[string]version.Version // installed packages accepted as-is
	versions      map[string][]version.Version
	attempts      map[string]int
}

func newState(installed map[string]version.Version) *state {
	return &state{
		required:      make(map[string]map[string]string),
		visited:       make(map[string]bool),
		toInstall:     make(Resolution),
		installed:     installed,
		keptInstalled: make(map[string]version.Version),
		versions:      make(map[string][]version.Version),
		attempts:      make(map[string]int),
	}
}

func (s *state) require(pkg, requirer, constraint string) {
	m, ok := s.required[pkg]
	if !ok {
		m = make(map[string]string)
		s.required[pkg] = m
	}
	m[requirer] = constraint
}

// dropRequirer forgets the constraints requirer placed on other packages,
// so a re-selected package does not leave its old edges behind.
func (s *state) dropRequirer(requirer string) {
	for _, m := range s.required {
		delete(m, requirer)
	}
}

// pruneOrphans forgets every visited package that nothing requires any
// more, along with the edges it placed, until no such package is left.
// It returns the pruned names.
func (s *state) pruneOrphans() []string {
	var pruned []string
	for {
		var orphans []string
		for name := range s.visited {
			if len(s.required[name]) == 0 {
				orphans = append(orphans, name)
			}
		}
		if len(orphans) == 0 {
			return pruned
		}
		slices.Sort(orphans)
		for _, name := range orphans {
			delete(s.visited, name)
			delete(s.toInstall, name)
			delete(s.keptInstalled, name)
			delete(s.required, name)
			s.dropRequirer(name)
		}
		pruned = append(pruned, orphans...)
	}
}

// constraints parses every constraint recorded for pkg in requirer order.
func (s *state) constraints(pkg string) ([]version.Constraint, error) {
	reqs := s.required[pkg]
	out := make([]version.Constraint, 0, len(reqs))
	for _, requirer := range slices.Sorted(maps.Keys(reqs)) {
		c, err := version.ParseConstraint(reqs[requirer])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// currentChoiceHolds reports whether the version settled for pkg, chosen
// or kept installed, still satisfies every recorded constraint.
func (s *state) currentChoiceHolds(pkg string) (bool, error) {
	v, ok := s.toInstall[pkg]
	if !ok {
		v, ok = s.keptInstalled[pkg]
	}
	if !ok {
		return true, nil
	}
	constraints, err := s.constraints(pkg)
	if err != nil {
		return false, err
	}
	return allowsAll(constraints, v), nil
}

func (s *state) conflict(pkg string) *ConflictError {
	return &ConflictError{Package: pkg, Requirers: maps.Clone(s.required[pkg])}
}
