package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a filesystem backend rooted at a single directory. Paths are
// translated to the host separator on the way in and back to slashes on the
// way out, so callers always see slash-separated paths.
type Local struct {
	root string
}

// NewLocal creates a filesystem backend rooted at root. The root directory is
// created if it does not exist.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) hostPath(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

// Read returns the bytes stored at path, or ErrNotFound.
func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.hostPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Write stores data at path, creating parent directories as needed.
func (l *Local) Write(ctx context.Context, path string, data []byte) error {
	host := l.hostPath(path)
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(host, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadToString is Read with a string result.
func (l *Local) ReadToString(ctx context.Context, path string) (string, error) {
	data, err := l.Read(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists reports whether path holds a regular file.
func (l *Local) FileExists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(l.hostPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// List returns every file path with the given prefix, sorted lexicographically.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(l.root, func(host string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, host)
		if err != nil {
			return err
		}
		path := filepath.ToSlash(rel)
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// MkdirAll creates the directory and its parents.
func (l *Local) MkdirAll(ctx context.Context, path string) error {
	if err := os.MkdirAll(l.hostPath(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}
