package requirements

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/frederic-klein/llamapkg/internal/model"
	"github.com/frederic-klein/llamapkg/internal/version"
)

func TestParser_Parse(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantReqs []model.Requirement
	}{
		{
			name:     "simple requires",
			content:  `requires "llamatext"`,
			wantReqs: []model.Requirement{{Name: "llamatext", Constraint: ">=0.0.0"}},
		},
		{
			name:     "requires with constraint",
			content:  `requires "llamatext", ">=1.2.0"`,
			wantReqs: []model.Requirement{{Name: "llamatext", Constraint: ">=1.2.0"}},
		},
		{
			name:     "single quotes and semicolon",
			content:  `requires 'llamacore', '~=1.0.0';`,
			wantReqs: []model.Requirement{{Name: "llamacore", Constraint: "~=1.0.0"}},
		},
		{
			name: "multiple requires keep file order",
			content: `requires "zeta", "==1.0.0"
requires "alpha"`,
			wantReqs: []model.Requirement{
				{Name: "zeta", Constraint: "==1.0.0"},
				{Name: "alpha", Constraint: ">=0.0.0"},
			},
		},
		{
			name: "comments and blank lines",
			content: `# runtime
requires "llamatext", "<2.0.0"

  # trailing
`,
			wantReqs: []model.Requirement{{Name: "llamatext", Constraint: "<2.0.0"}},
		},
		{
			name: "duplicate keeps last constraint",
			content: `requires "llamatext", ">=1.0.0"
requires "llamacore"
requires "llamatext", "==1.1.0"`,
			wantReqs: []model.Requirement{
				{Name: "llamatext", Constraint: "==1.1.0"},
				{Name: "llamacore", Constraint: ">=0.0.0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewParser().Parse(strings.NewReader(tt.content))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(got) != len(tt.wantReqs) {
				t.Fatalf("got %d requirements, want %d", len(got), len(tt.wantReqs))
			}
			for i, want := range tt.wantReqs {
				if got[i] != want {
					t.Errorf("requirement %d = %+v, want %+v", i, got[i], want)
				}
			}
		})
	}
}

func TestParser_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a requires line", `depends "llamatext"`},
		{"invalid name", `requires "Llama Text"`},
		{"malformed constraint", `requires "llamatext", ">=one"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewParser().Parse(strings.NewReader(tt.content)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestParser_ParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte(`requires "llamatext", ">=1.0.0"`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reqs, err := NewParser().ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(reqs) != 1 || reqs[0].Name != "llamatext" {
		t.Errorf("ParseFile() = %+v", reqs)
	}

	if _, err := NewParser().ParseFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("ParseFile() on missing file should fail")
	}
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		arg     string
		want    model.Requirement
		wantErr bool
	}{
		{arg: "llamatext", want: model.Requirement{Name: "llamatext", Constraint: ">=0.0.0"}},
		{arg: "llamatext>=1.0.0", want: model.Requirement{Name: "llamatext", Constraint: ">=1.0.0"}},
		{arg: "llamatext~=1.2.0", want: model.Requirement{Name: "llamatext", Constraint: "~=1.2.0"}},
		{arg: "llama-core==2.0.0", want: model.Requirement{Name: "llama-core", Constraint: "==2.0.0"}},
		{arg: "llamatext<2.0.0", want: model.Requirement{Name: "llamatext", Constraint: "<2.0.0"}},
		{arg: "Llamatext", wantErr: true},
		{arg: "llamatext@1.0.0", wantErr: true},
		{arg: "llamatext>=1.0.0,<2.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := ParseArg(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseArg(%q) expected error", tt.arg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArg(%q) error = %v", tt.arg, err)
			}
			if got != tt.want {
				t.Errorf("ParseArg(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestParseArg_MalformedConstraintIsParseError(t *testing.T) {
	_, err := ParseArg("llamatext>=x.y")
	var pe *version.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("ParseArg() error = %v, want *version.ParseError", err)
	}
}
