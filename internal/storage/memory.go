package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process backend for tests. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Read returns the bytes stored at path, or ErrNotFound.
func (m *Memory) Read(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores a copy of data at path.
func (m *Memory) Write(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	return nil
}

// ReadToString is Read with a string result.
func (m *Memory) ReadToString(ctx context.Context, path string) (string, error) {
	data, err := m.Read(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists reports whether path holds data.
func (m *Memory) FileExists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.files[path]
	return ok, nil
}

// List returns every stored path with the given prefix, sorted.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for path := range m.files {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MkdirAll is a no-op: the memory backend has no directories.
func (m *Memory) MkdirAll(ctx context.Context, path string) error {
	return nil
}
