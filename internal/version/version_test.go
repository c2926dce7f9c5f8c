package version

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{"1.2.3", New(1, 2, 3), false},
		{"0.0.0", New(0, 0, 0), false},
		{"10.20.30", New(10, 20, 30), false},
		{"1.2", Version{}, true},
		{"1", Version{}, true},
		{"", Version{}, true},
		{"a.b.c", Version{}, true},
		{"-1.0.0", Version{}, true},
		{"1.2.3-beta.1", Version{}, true},
		{"1.2.3+build", Version{}, true},
		{"01.2.3", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.input, got)
				}
				if !errors.Is(err, ErrInvalidVersion) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalidVersion", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{"1.2.3", New(1, 2, 3), false},
		{"1.2", New(1, 2, 0), false},
		{"3", New(3, 0, 0), false},
		{"v2.1", New(2, 1, 0), false},
		{" 1.0 ", New(1, 0, 0), false},
		{"2.0.0rc1", New(2, 0, 0), false},
		{"1.2.3.4", New(1, 2, 3), false},
		{"abc", Version{}, true},
		{"", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Coerce(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.0.0", 1},
		{"1.10.0", "1.9.0", 1},
		{"1.2.10", "1.2.9", 1},
		{"0.9.9", "1.0.0", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			a, b := MustParse(tt.a), MustParse(tt.b)
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := b.Compare(a); got != -tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestCompare_Transitive(t *testing.T) {
	vs := []Version{New(0, 1, 0), New(0, 1, 5), New(1, 0, 0), New(1, 2, 0), New(2, 0, 0)}
	for i := range vs {
		for j := range vs {
			for k := range vs {
				if vs[i].Less(vs[j]) && vs[j].Less(vs[k]) {
					assert.True(t, vs[i].Less(vs[k]), "%v < %v < %v", vs[i], vs[j], vs[k])
				}
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.1", "1.2.3", "42.0.7"} {
		v := MustParse(s)
		again, err := Parse(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, again)
	}
}

func TestMax(t *testing.T) {
	_, ok := Max(nil)
	assert.False(t, ok)

	got, ok := Max([]Version{New(1, 0, 0), New(1, 10, 0), New(1, 9, 9)})
	require.True(t, ok)
	assert.Equal(t, New(1, 10, 0), got)
}

func TestTextMarshaling(t *testing.T) {
	var v Version
	require.NoError(t, v.UnmarshalText([]byte("3.1.4")))
	assert.Equal(t, New(3, 1, 4), v)

	b, err := v.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", string(b))

	assert.ErrorIs(t, v.UnmarshalText([]byte("3.1")), ErrInvalidVersion)
}
