package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis is a backend that stores movie state in a Redis server. Every path
// becomes one string key under a configurable namespace, which lets several
// engines share a server without colliding. Intended for single-host setups
// where the CLI and a viewer process share state; blob payloads of typical
// movie sizes fit comfortably in Redis values.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

// NewRedis creates a Redis backend. The namespace prefixes every key
// (pattern: renku:{namespace}:file:{path}) and must not be empty.
func NewRedis(opts *redis.Options, namespace string) (*Redis, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Redis{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) key(path string) string {
	return fmt.Sprintf("renku:%s:file:%s", r.namespace, path)
}

// Read returns the bytes stored at path, or ErrNotFound.
func (r *Redis) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s from Redis: %w", path, err)
	}
	return data, nil
}

// Write stores data at path.
func (r *Redis) Write(ctx context.Context, path string, data []byte) error {
	if err := r.rdb.Set(ctx, r.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s to Redis: %w", path, err)
	}
	return nil
}

// ReadToString is Read with a string result.
func (r *Redis) ReadToString(ctx context.Context, path string) (string, error) {
	data, err := r.Read(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists reports whether path holds data.
func (r *Redis) FileExists(ctx context.Context, path string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(path)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", path, err)
	}
	return n > 0, nil
}

// List scans for every path with the given prefix, sorted lexicographically.
// Uses SCAN so large movies do not block the server.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := r.key(prefix) + "*"
	keyPrefix := r.key("")

	var out []string
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// MkdirAll is a no-op: Redis keys have no directories.
func (r *Redis) MkdirAll(ctx context.Context, path string) error {
	return nil
}
