package lockfile

import (
	"bytes"
	"testing"
)

func TestEmitter_Emit(t *testing.T) {
	tests := []struct {
		name    string
		entries []*Entry
		want    string
	}{
		{
			name:    "empty",
			entries: []*Entry{},
			want:    "# llamapkg lock format: version 1\nPACKAGES\n",
		},
		{
			name: "single entry",
			entries: []*Entry{
				{
					Name:    "llamacore",
					Version: "1.0.0",
					PURL:    "pkg:llamapkg/llamacore@1.0.0",
					Locator: "/srv/artifacts/llamacore/1.0.0/llamacore-1.0.0.tar.gz",
				},
			},
			want: `# llamapkg lock format: version 1
PACKAGES
  llamacore 1.0.0
    purl: pkg:llamapkg/llamacore@1.0.0
    locator: /srv/artifacts/llamacore/1.0.0/llamacore-1.0.0.tar.gz
`,
		},
		{
			name: "with requirements",
			entries: []*Entry{
				{
					Name:    "llamatext",
					Version: "1.2.0",
					SHA256:  "abc123",
					Requirements: map[string]string{
						"llamacore": ">=1.0.0",
						"llamaio":   "",
					},
				},
			},
			want: `# llamapkg lock format: version 1
PACKAGES
  llamatext 1.2.0
    sha256: abc123
    requirements:
      llamacore >=1.0.0
      llamaio *
`,
		},
		{
			name: "sorted output",
			entries: []*Entry{
				{Name: "zebra", Version: "1.0.0"},
				{Name: "alpha", Version: "2.0.0"},
			},
			want: `# llamapkg lock format: version 1
PACKAGES
  alpha 2.0.0
  zebra 1.0.0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEmitter(&buf).Emit(tt.entries); err != nil {
				t.Fatalf("Emit() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Emit() =\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}
