package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/version"
)

// fakeSource maps package -> version -> dependencies.
type fakeSource struct {
	pkgs         map[string]map[string]map[string]string
	versionCalls map[string]int
	versionsErr  error
}

func newFakeSource(pkgs map[string]map[string]map[string]string) *fakeSource {
	return &fakeSource{pkgs: pkgs, versionCalls: map[string]int{}}
}

func (f *fakeSource) Versions(ctx context.Context, name string) ([]version.Version, error) {
	f.versionCalls[name]++
	if f.versionsErr != nil {
		return nil, f.versionsErr
	}
	var out []version.Version
	for v := range f.pkgs[name] {
		out = append(out, version.MustParse(v))
	}
	return out, nil
}

func (f *fakeSource) Dependencies(ctx context.Context, name string, v version.Version) (map[string]string, error) {
	deps, ok := f.pkgs[name][v.String()]
	if !ok {
		return nil, fmt.Errorf("%s %s unknown", name, v)
	}
	return deps, nil
}

func roots(pairs ...string) []model.Requirement {
	var out []model.Requirement
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.Requirement{Name: pairs[i], Constraint: pairs[i+1]})
	}
	return out
}

func v(s string) version.Version {
	return version.MustParse(s)
}

var noneInstalled = map[string]string{}

func TestResolve_SingleRootPicksMax(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"llamatext": {"0.9.0": nil, "1.0.0": nil, "1.10.0": nil, "1.2.0": nil},
	})

	res, err := New(src).Resolve(context.Background(), roots("llamatext", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, Resolution{"llamatext": v("1.10.0")}, res)
}

func TestResolve_RootConstraints(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"llamatext": {"0.2.3": nil, "0.2.9": nil, "0.3.0": nil, "1.0.0": nil, "1.2.3": nil, "1.2.9": nil, "1.3.0": nil},
	})

	tests := []struct {
		constraint string
		want       string
	}{
		{"", "1.3.0"},
		{">=1.0.0", "1.3.0"},
		{"<1.0.0", "0.3.0"},
		{"<=1.2.3", "1.2.3"},
		{">0.3.0", "1.3.0"},
		{"==1.0.0", "1.0.0"},
		{"1.2.3", "1.2.3"},
		{"~=1.2.3", "1.2.9"},
		{"~=0.2.3", "0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			res, err := New(src).Resolve(context.Background(), roots("llamatext", tt.constraint), noneInstalled)
			require.NoError(t, err)
			assert.Equal(t, v(tt.want), res["llamatext"])
		})
	}
}

func TestResolve_Transitive(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"app":       {"1.0.0": {"llamatext": ">=1.0.0"}},
		"llamatext": {"1.0.0": {"llamacore": "~=0.2.0"}, "1.1.0": {"llamacore": "~=0.3.0"}},
		"llamacore": {"0.2.5": nil, "0.3.1": nil, "0.4.0": nil},
	})

	res, err := New(src).Resolve(context.Background(), roots("app", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, Resolution{
		"app":       v("1.0.0"),
		"llamatext": v("1.1.0"),
		"llamacore": v("0.3.1"),
	}, res)
}

func TestResolve_SharedDependencyAtMaxSatisfyingBoth(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"alpha":  {"1.0.0": {"shared": ">=1.0.0"}},
		"beta":   {"1.0.0": {"shared": ">=1.2.0"}},
		"shared": {"1.0.0": nil, "1.2.0": nil, "1.5.0": nil},
	})

	res, err := New(src).Resolve(context.Background(), roots("alpha", "", "beta", ""), noneInstalled)
	require.NoError(t, err)
	assert.Len(t, res, 3)
	assert.Equal(t, v("1.5.0"), res["shared"])
}

func TestResolve_ConflictingExactRequirements(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"alpha": {"1.0.0": {"x": "==1.0.0"}},
		"beta":  {"1.0.0": {"x": "==2.0.0"}},
		"x":     {"1.0.0": nil, "2.0.0": nil},
	})

	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			_, err := New(src, WithStrict(strict)).Resolve(context.Background(), roots("alpha", "", "beta", ""), noneInstalled)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConflict)

			var conflict *ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, "x", conflict.Package)
			assert.Equal(t, map[string]string{"alpha": "==1.0.0", "beta": "==2.0.0"}, conflict.Requirers)
			assert.Contains(t, conflict.Error(), "alpha requires ==1.0.0")
			assert.Contains(t, conflict.Error(), "beta requires ==2.0.0")
		})
	}
}

func TestResolve_UnknownPackageIsConflict(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{})

	_, err := New(src).Resolve(context.Background(), roots("ghost", ">=1.0.0"), noneInstalled)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "ghost", conflict.Package)
	assert.Equal(t, map[string]string{RootRequirer: ">=1.0.0"}, conflict.Requirers)
}

func TestResolve_NoVersionSatisfiesRoot(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"llamatext": {"1.0.0": nil},
	})

	_, err := New(src).Resolve(context.Background(), roots("llamatext", ">=2.0.0"), noneInstalled)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResolve_InstalledSatisfyingIsSkipped(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"app":       {"1.0.0": {"llamatext": ">=1.0.0"}},
		"llamatext": {"1.0.0": {"llamacore": ">=0.1.0"}, "2.0.0": nil},
		"llamacore": {"0.1.0": nil},
	})

	res, err := New(src).Resolve(context.Background(), roots("app", ""), map[string]string{"llamatext": "1.0"})
	require.NoError(t, err)
	assert.Equal(t, Resolution{"app": v("1.0.0")}, res)
}

func TestResolve_InstalledNotSatisfyingIsUpgraded(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"llamatext": {"1.0.0": nil, "2.0.0": nil},
	})

	res, err := New(src).Resolve(context.Background(), roots("llamatext", ">=2.0.0"), map[string]string{"llamatext": "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, Resolution{"llamatext": v("2.0.0")}, res)
}

func TestResolve_ProbeUsedWhenInstalledNil(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"llamatext": {"1.0.0": nil},
	})
	called := 0
	probe := ProbeFunc(func(ctx context.Context) (map[string]string, error) {
		called++
		return map[string]string{"llamatext": "1.0.0"}, nil
	})

	res, err := New(src, WithProbe(probe)).Resolve(context.Background(), roots("llamatext", ""), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, 1, called)

	// An explicit installed set bypasses the probe.
	res, err = New(src, WithProbe(probe)).Resolve(context.Background(), roots("llamatext", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, Resolution{"llamatext": v("1.0.0")}, res)
	assert.Equal(t, 1, called)
}

func TestResolve_ProbeError(t *testing.T) {
	probe := ProbeFunc(func(ctx context.Context) (map[string]string, error) {
		return nil, errors.New("lockfile unreadable")
	})
	_, err := New(newFakeSource(nil), WithProbe(probe)).Resolve(context.Background(), roots("a", ""), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestResolve_MalformedConstraintPropagatesUnwrapped(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"app":       {"1.0.0": {"llamatext": ">=banana"}},
		"llamatext": {"1.0.0": nil},
	})

	_, err := New(src).Resolve(context.Background(), roots("app", ""), noneInstalled)
	require.Error(t, err)
	assert.ErrorIs(t, err, version.ErrInvalidConstraint)

	pe, ok := err.(*version.ParseError)
	require.True(t, ok, "constraint errors are returned unwrapped, got %T", err)
	assert.Equal(t, ">=banana", pe.Input)
}

func TestResolve_Cycle(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"a": {"1.0.0": {"b": ">=1.0.0"}},
		"b": {"1.0.0": {"a": ">=1.0.0"}},
	})

	res, err := New(src).Resolve(context.Background(), roots("a", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, Resolution{"a": v("1.0.0"), "b": v("1.0.0")}, res)
}

func TestResolve_VersionsFetchedOncePerRun(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"a":      {"1.0.0": {"shared": ">=1.0.0"}},
		"b":      {"1.0.0": {"shared": ">=1.0.0"}},
		"shared": {"1.0.0": nil},
	})

	_, err := New(src, WithStrict(true)).Resolve(context.Background(), roots("a", "", "b", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, 1, src.versionCalls["shared"])
}

func TestResolve_SourceError(t *testing.T) {
	src := newFakeSource(nil)
	src.versionsErr = errors.New("upstream exploded")

	_, err := New(src).Resolve(context.Background(), roots("a", ""), noneInstalled)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "upstream exploded")
}

// A later, tighter constraint on an already settled package: the default
// mode reports it, strict mode re-selects.
func TestResolve_LateConstraint(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"alpha":  {"1.0.0": {"shared": ">=1.0.0"}},
		"beta":   {"1.0.0": {"shared": "<2.0.0"}},
		"shared": {"1.0.0": nil, "1.5.0": nil, "2.1.0": nil},
	})

	_, err := New(src).Resolve(context.Background(), roots("alpha", "", "beta", ""), noneInstalled)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "shared", conflict.Package)

	res, err := New(src, WithStrict(true)).Resolve(context.Background(), roots("alpha", "", "beta", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, v("1.5.0"), res["shared"])
}

func TestResolve_StrictDropsStaleEdges(t *testing.T) {
	// shared 2.1.0 pulls in tail==2.0.0 and stray; after re-selecting
	// shared 1.5.0 the stale edge must not constrain tail, and stray with
	// everything only it required must leave the install set.
	src := newFakeSource(map[string]map[string]map[string]string{
		"alpha":  {"1.0.0": {"shared": ">=1.0.0"}},
		"beta":   {"1.0.0": {"shared": "<2.0.0", "tail": "==1.0.0"}},
		"shared": {"1.5.0": nil, "2.1.0": {"tail": "==2.0.0", "stray": ">=1.0.0"}},
		"stray":  {"1.0.0": {"deeper": ""}},
		"deeper": {"1.0.0": nil},
		"tail":   {"1.0.0": nil, "2.0.0": nil},
	})

	res, err := New(src, WithStrict(true)).Resolve(context.Background(), roots("alpha", "", "beta", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, Resolution{
		"alpha":  v("1.0.0"),
		"beta":   v("1.0.0"),
		"shared": v("1.5.0"),
		"tail":   v("1.0.0"),
	}, res)
}

func TestResolve_StrictReselectDropsUnrequiredDependency(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"a": {"1.0.0": {"x": ">=1.0.0"}},
		"b": {"1.0.0": {"x": "<2.0.0"}},
		"x": {"1.0.0": nil, "2.0.0": {"y": ""}},
		"y": {"1.0.0": nil},
	})

	res, err := New(src, WithStrict(true)).Resolve(context.Background(), roots("a", "", "b", ""), noneInstalled)
	require.NoError(t, err)
	assert.Equal(t, Resolution{"a": v("1.0.0"), "b": v("1.0.0"), "x": v("1.0.0")}, res)
}

func TestResolve_PackageNamedLikeRootRequirer(t *testing.T) {
	t.Run("conflict names both requirers", func(t *testing.T) {
		src := newFakeSource(map[string]map[string]map[string]string{
			"app":  {"1.0.0": {"root": ""}, "2.0.0": nil},
			"root": {"1.0.0": {"app": ">=2.0.0"}},
		})

		_, err := New(src).Resolve(context.Background(), roots("app", "==1.0.0"), noneInstalled)
		var conflict *ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "app", conflict.Package)
		assert.Equal(t, map[string]string{RootRequirer: "==1.0.0", "root": ">=2.0.0"}, conflict.Requirers)
	})

	t.Run("dependency named root resolves", func(t *testing.T) {
		src := newFakeSource(map[string]map[string]map[string]string{
			"app":  {"1.0.0": {"root": ""}, "2.0.0": {"root": ""}},
			"root": {"1.0.0": {"app": ">=1.0.0"}},
		})

		res, err := New(src, WithStrict(true)).Resolve(context.Background(), roots("app", "==1.0.0"), noneInstalled)
		require.NoError(t, err)
		assert.Equal(t, Resolution{"app": v("1.0.0"), "root": v("1.0.0")}, res)
	})
}

func TestResolve_DuplicateRoot(t *testing.T) {
	src := newFakeSource(map[string]map[string]map[string]string{
		"llamatext": {"1.0.0": nil, "2.0.0": nil},
	})

	_, err := New(src).Resolve(context.Background(), roots("llamatext", ">=1.0.0", "llamatext", "<2.0.0"), noneInstalled)
	assert.ErrorIs(t, err, ErrDuplicateRoot)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestResolution_Names(t *testing.T) {
	res := Resolution{"b": v("1.0.0"), "a": v("2.0.0")}
	assert.Equal(t, []string{"a", "b"}, res.Names())
}

func TestConflictError_NoRequirers(t *testing.T) {
	err := &ConflictError{Package: "x"}
	assert.Equal(t, "dependency conflict for x: no versions available", err.Error())
}
