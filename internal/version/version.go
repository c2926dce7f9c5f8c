// Package version implements the version and constraint model used by the
// registry and the resolver: strict and tolerant parsing of M.m.p versions,
// total ordering, and evaluation of constraint expressions.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/blang/semver"
)

var (
	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidConstraint is returned when a constraint string cannot be parsed.
	ErrInvalidConstraint = errors.New("invalid constraint")
)

// ParseError describes a version or constraint string that failed to parse.
type ParseError struct {
	Input string
	Kind  error // ErrInvalidVersion or ErrInvalidConstraint
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v", e.Kind, e.Input, e.Err)
	}
	return fmt.Sprintf("%v %q", e.Kind, e.Input)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Version is an immutable major.minor.patch triple.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
}

// New builds a Version from its components.
func New(major, minor, patch uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Parse strictly parses text as three dot-separated non-negative integers.
// Pre-release and build suffixes are rejected.
func Parse(text string) (Version, error) {
	sv, err := semver.Parse(text)
	if err != nil {
		return Version{}, &ParseError{Input: text, Kind: ErrInvalidVersion, Err: err}
	}
	if len(sv.Pre) > 0 || len(sv.Build) > 0 {
		return Version{}, &ParseError{Input: text, Kind: ErrInvalidVersion, Err: errors.New("pre-release and build metadata are not supported")}
	}
	return Version{Major: sv.Major, Minor: sv.Minor, Patch: sv.Patch}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and literals.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

var leadingNumericRe = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// Coerce parses ragged version strings such as "1.2", "v3" or "2.0.0rc1",
// padding missing components with zero and dropping any trailing suffix.
// Use it only for versions supplied by an upstream source.
func Coerce(text string) (Version, error) {
	trimmed := strings.TrimSpace(text)
	if sv, err := semver.ParseTolerant(trimmed); err == nil {
		return Version{Major: sv.Major, Minor: sv.Minor, Patch: sv.Patch}, nil
	}

	m := leadingNumericRe.FindStringSubmatch(trimmed)
	if m == nil {
		return Version{}, &ParseError{Input: text, Kind: ErrInvalidVersion}
	}
	var parts [3]uint64
	for i := range parts {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return Version{}, &ParseError{Input: text, Kind: ErrInvalidVersion, Err: err}
		}
		parts[i] = n
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// String returns the canonical "major.minor.patch" form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 comparing major, then minor, then patch.
func (v Version) Compare(other Version) int {
	if c := cmpUint(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmpUint(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmpUint(v.Patch, other.Patch)
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Compare is the package-level form of Version.Compare, usable with slices.SortFunc.
func Compare(a, b Version) int {
	return a.Compare(b)
}

// MarshalText encodes the version as its canonical string.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText strictly parses the canonical string form.
func (v *Version) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Max returns the greatest version in vs and false when vs is empty.
func Max(vs []Version) (Version, bool) {
	if len(vs) == 0 {
		return Version{}, false
	}
	best := vs[0]
	for _, v := range vs[1:] {
		if best.Less(v) {
			best = v
		}
	}
	return best, true
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
