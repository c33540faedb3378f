// ABOUTME: Filesystem Store backend, one file per key under a base directory
// ABOUTME: Key namespaces map to directories; segments are path-escaped

package kv

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FS stores each key as a file under a base directory. The ":" separators in
// a key become directory levels, so "codes:abc" lands at <base>/codes/abc.
// Individual segments are escaped so arbitrary identifiers (emails, base64
// credential ids) cannot climb out of the tree.
type FS struct {
	base string
}

// NewFS creates a filesystem store rooted at base, creating it if needed.
func NewFS(base string) (*FS, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FS{base: base}, nil
}

// keyPath converts a logical key into a path below the base directory.
func (f *FS) keyPath(key string) string {
	segments := strings.Split(key, ":")
	escaped := make([]string, len(segments))
	for i, s := range segments {
		e := url.PathEscape(s)
		// PathEscape leaves "." and ".." untouched; force-escape them so an
		// identifier can never name the namespace directory or its parent.
		switch e {
		case ".":
			e = "%2E"
		case "..":
			e = "%2E%2E"
		}
		escaped[i] = e
	}
	return filepath.Join(append([]string{f.base}, escaped...)...)
}

// pathKey reverses keyPath for a path discovered during ListKeys.
func (f *FS) pathKey(path string) (string, error) {
	rel, err := filepath.Rel(f.base, path)
	if err != nil {
		return "", err
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		unescaped, err := url.PathUnescape(s)
		if err != nil {
			return "", err
		}
		segments[i] = unescaped
	}
	return strings.Join(segments, ":"), nil
}

func (f *FS) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.keyPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

func (f *FS) Set(_ context.Context, key string, value []byte) error {
	path := f.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, value, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (f *FS) Delete(_ context.Context, key string) error {
	err := os.Remove(f.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (f *FS) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		key, err := f.pathKey(path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking storage directory: %w", err)
	}
	return keys, nil
}

func (f *FS) Close() error {
	return nil
}
