package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/postvault/internal/checksum"
	"github.com/starford/postvault/internal/models"
)

const tempPrefix = ".postvault-tmp-"

// ErrOutsideRoot is returned for paths that are absolute or climb out of the
// content root.
var ErrOutsideRoot = errors.New("storage: path outside content root")

// FS is a Provider over a directory opened with os.OpenRoot, so symlinks
// cannot escape the content root either.
type FS struct {
	dir  string
	root *os.Root
}

// NewFS opens dir as the content root. The directory must exist.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &FS{dir: abs, root: root}, nil
}

// Root returns the absolute content root.
func (f *FS) Root() string { return f.dir }

// Close releases the root directory handle.
func (f *FS) Close() error { return f.root.Close() }

// clean normalises a slash path relative to the root. The empty path and
// "." both name the root itself.
func clean(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	c := path.Clean(filepath.ToSlash(p))
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return c, nil
}

// IsPostFile reports whether the base name belongs to a post document.
// Hidden files (which include in-flight temp files) and Hugo section pages
// such as _index.md are not posts.
func IsPostFile(name string) bool {
	return strings.HasSuffix(name, ".md") &&
		!strings.HasPrefix(name, ".") &&
		!strings.HasPrefix(name, "_")
}

// List walks dir and returns metadata for every post file beneath it.
// Hidden directories are skipped.
func (f *FS) List(dir string) ([]models.PostMetadata, error) {
	base, err := clean(dir)
	if err != nil {
		return nil, err
	}
	fsys := f.root.FS()
	var out []models.PostMetadata
	err = fs.WalkDir(fsys, base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !IsPostFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out = append(out, models.PostMetadata{
			Path:      p,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", base, err)
	}
	return out, nil
}

// Read returns the raw bytes of the file at p.
func (f *FS) Read(p string) ([]byte, error) {
	c, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := f.root.ReadFile(c)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the file at p atomically: the content goes to a sibling
// temp file which is synced and then renamed over the target.
func (f *FS) Write(p string, content []byte) error {
	c, err := clean(p)
	if err != nil {
		return err
	}
	if c == "." {
		return fmt.Errorf("storage: write: empty path")
	}
	dir := path.Dir(c)
	if err := f.root.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	tmpName := path.Join(dir, tempPrefix+uuid.NewString())
	tmp, err := f.root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = f.root.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := f.root.Rename(tmpName, c); err != nil {
		return fmt.Errorf("storage: rename %s: %w", p, err)
	}
	committed = true
	return nil
}

// Delete removes the file at p.
func (f *FS) Delete(p string) error {
	c, err := clean(p)
	if err != nil {
		return err
	}
	if err := f.root.Remove(c); err != nil {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}

// Exists reports whether p names an existing file or directory.
func (f *FS) Exists(p string) bool {
	c, err := clean(p)
	if err != nil {
		return false
	}
	_, err = f.root.Stat(c)
	return err == nil
}
