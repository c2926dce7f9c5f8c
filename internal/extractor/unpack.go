package extractor

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Unpack extracts every regular file of the archive under destDir.
// Entries that would land outside destDir are rejected.
func (e *Extractor) Unpack(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	return walkArchive(archivePath, func(name string, open func() (io.ReadCloser, error)) error {
		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		rc, err := open()
		if err != nil {
			return err
		}
		defer rc.Close()

		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, rc); err != nil {
			f.Close()
			return fmt.Errorf("extracting %s: %w", name, err)
		}
		return f.Close()
	})
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

// excluded names are never packed.
var excluded = map[string]bool{
	".git":        true,
	".hg":         true,
	".svn":        true,
	"__pycache__": true,
	".DS_Store":   true,
}

// Pack writes srcDir as <destDir>/<name>-<version>.tar.gz with every entry
// under a "<name>-<version>/" prefix, and returns the archive path.
func (e *Extractor) Pack(srcDir, destDir, name, version string) (string, error) {
	base := name + "-" + version
	archivePath := filepath.Join(destDir, base+".tar.gz")

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if excluded[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr := &tar.Header{
			Name:    base + "/" + filepath.ToSlash(rel),
			Mode:    int64(info.Mode().Perm()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("packing %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finishing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("finishing archive: %w", err)
	}
	return archivePath, nil
}
