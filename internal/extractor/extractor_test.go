package extractor

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func createTestTarball(t *testing.T, files map[string]string) string {
	t.Helper()

	tmpDir := t.TempDir()
	tarballPath := filepath.Join(tmpDir, "test.tar.gz")

	f, err := os.Create(tarballPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	for name, content := range files {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	return tarballPath
}

func createTestZip(t *testing.T, files map[string]string) string {
	t.Helper()

	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	return zipPath
}

const manifestYAML = `name: llamatext
version: 1.2.0
description: Text utilities for llamas
author: Alice
author_email: alice@example.com
keywords: [nlp, text]
dependencies:
  llamacore: ">=0.2.0"
`

func TestExtractor_Manifest_YAMLInTarball(t *testing.T) {
	tarballPath := createTestTarball(t, map[string]string{
		"llamatext-1.2.0/llamapkg.yaml":  manifestYAML,
		"llamatext-1.2.0/src/main.llama": "print('hi')",
	})

	m, err := NewExtractor().Manifest(tarballPath)
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}

	if m.Name != "llamatext" {
		t.Errorf("Name = %q, want llamatext", m.Name)
	}
	if m.Version != "1.2.0" {
		t.Errorf("Version = %q, want 1.2.0", m.Version)
	}
	if m.Dependencies["llamacore"] != ">=0.2.0" {
		t.Errorf("Dependencies[llamacore] = %q, want >=0.2.0", m.Dependencies["llamacore"])
	}
	if len(m.Keywords) != 2 {
		t.Errorf("Keywords = %v, want 2 entries", m.Keywords)
	}
}

func TestExtractor_Manifest_JSONInZip(t *testing.T) {
	zipPath := createTestZip(t, map[string]string{
		"llamapkg.json": `{"name": "llamacore", "version": "0.3.1", "license": "MIT"}`,
	})

	m, err := NewExtractor().Manifest(zipPath)
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}
	if m.Name != "llamacore" || m.Version != "0.3.1" || m.License != "MIT" {
		t.Errorf("Manifest() = %+v", m)
	}
}

func TestExtractor_Manifest_PrefersYAML(t *testing.T) {
	tarballPath := createTestTarball(t, map[string]string{
		"pkg/llamapkg.json": `{"name": "from-json", "version": "1.0.0"}`,
		"pkg/llamapkg.yaml": "name: from-yaml\nversion: 2.0.0\n",
	})

	m, err := NewExtractor().Manifest(tarballPath)
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}
	if m.Name != "from-yaml" {
		t.Errorf("Name = %q, want from-yaml", m.Name)
	}
}

func TestExtractor_Manifest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name: "no manifest",
			path: func(t *testing.T) string {
				return createTestTarball(t, map[string]string{"pkg/README": "hello"})
			},
			wantErr: ErrNoManifest,
		},
		{
			name: "manifest too deep",
			path: func(t *testing.T) string {
				return createTestTarball(t, map[string]string{"pkg/nested/llamapkg.yaml": manifestYAML})
			},
			wantErr: ErrNoManifest,
		},
		{
			name: "unsupported format",
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "pkg.rar")
				if err := os.WriteFile(p, []byte("rar"), 0644); err != nil {
					t.Fatal(err)
				}
				return p
			},
			wantErr: ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor().Manifest(tt.path(t))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Manifest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractor_Manifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad name", "name: Llama Text\nversion: 1.0.0\n"},
		{"bad version", "name: llamatext\nversion: one\n"},
		{"bad dependency constraint", "name: llamatext\nversion: 1.0.0\ndependencies:\n  llamacore: \">=x\"\n"},
		{"not yaml", "name: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := createTestTarball(t, map[string]string{"llamapkg.yaml": tt.content})
			if _, err := NewExtractor().Manifest(p); err == nil {
				t.Error("Manifest() error = nil, want error")
			}
		})
	}
}

func TestFlexVersion_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"1.2.3"`, "1.2.3"},
		{`1.2`, "1.2"},
		{`3`, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var v FlexVersion
			if err := v.UnmarshalJSON([]byte(tt.input)); err != nil {
				t.Fatalf("UnmarshalJSON() error = %v", err)
			}
			if string(v) != tt.want {
				t.Errorf("got %q, want %q", v, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"pkg-1.0.0.tar.gz", KindTarGz},
		{"PKG.TGZ", KindTarGz},
		{"pkg.zip", KindZip},
		{"pkg.tar", KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.path); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
