package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/frederic-klein/llamapkg/internal/fetch"
)

// FileLocator returns the file:// locator for an absolute path.
func FileLocator(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// fetchLocator materializes a file:// or http(s):// locator into destDir.
func fetchLocator(ctx context.Context, getter fetch.Getter, locator, destDir string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parsing locator %q: %w", locator, err)
	}

	switch u.Scheme {
	case "file", "":
		src := filepath.FromSlash(u.Path)
		if destDir == "" {
			if _, err := os.Stat(src); err != nil {
				return "", err
			}
			return src, nil
		}
		f, err := os.Open(src)
		if err != nil {
			return "", err
		}
		defer f.Close()
		dest := filepath.Join(destDir, filepath.Base(src))
		if _, err := writeAtomic(dest, f); err != nil {
			return "", err
		}
		return dest, nil

	case "http", "https":
		if getter == nil {
			return "", fmt.Errorf("no HTTP fetcher configured for %s", locator)
		}
		if destDir == "" {
			return "", fmt.Errorf("destination required for %s", locator)
		}
		resp, err := getter.Get(ctx, locator)
		if err != nil {
			return "", err
		}
		defer func() { _ = resp.Body.Close() }()
		dest := filepath.Join(destDir, path.Base(u.Path))
		if _, err := writeAtomic(dest, resp.Body); err != nil {
			return "", err
		}
		return dest, nil
	}
	return "", fmt.Errorf("unsupported locator scheme %q", u.Scheme)
}

// writeAtomic streams r into dest through a uniquely named temp file and
// returns the hex sha256 of what was written.
func writeAtomic(dest string, r io.Reader) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	tmpPath := filepath.Join(filepath.Dir(dest), "."+uuid.NewString()+".tmp")
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, h), r)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex sha256 of the file at p.
func HashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isScheme(locator, scheme string) bool {
	return strings.HasPrefix(locator, scheme+"://")
}
