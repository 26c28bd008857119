package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a relative path would leave the output root.
var ErrPathTraversal = errors.New("path escapes output root")

// Storage writes mirrored files below a single output root. Paths passed to its methods
// are slash-separated and relative to the root.
type Storage struct {
	root string
}

// New creates the output root if needed and checks that it is a writable directory.
func New(root string) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	probe, err := os.CreateTemp(abs, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("output dir %s is not writable: %w", abs, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return &Storage{root: abs}, nil
}

// Root returns the absolute output root.
func (s *Storage) Root() string {
	return s.root
}

// SafePath joins rel onto the root and rejects anything that would escape it.
func (s *Storage) SafePath(rel string) (string, error) {
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
		}
	}
	cleaned := filepath.Join(s.root, filepath.Clean("/"+filepath.FromSlash(rel)))
	if cleaned == s.root || !strings.HasPrefix(cleaned, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	return cleaned, nil
}

// SaveFile writes content to rel atomically: the data goes to a temporary file in the
// target directory which is then renamed over the destination.
func (s *Storage) SaveFile(rel string, content []byte) error {
	target, err := s.SafePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error saving file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error saving file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error saving file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error saving file: %w", err)
	}
	return nil
}

// ReadFile reads the file at rel.
func (s *Storage) ReadFile(rel string) ([]byte, error) {
	target, err := s.SafePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return data, nil
}

// HasFile reports whether rel is a regular, non-empty file. Empty files are treated as
// missing so an interrupted download is fetched again.
func (s *Storage) HasFile(rel string) bool {
	target, err := s.SafePath(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(target)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Walk calls fn for every regular file below the root with its slash-separated relative
// path. Temporary files left by interrupted writes are skipped.
func (s *Storage) Walk(fn func(rel string, size int64) error) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}
