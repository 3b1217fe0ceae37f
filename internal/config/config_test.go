package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
version: "1.0"
movie:
  id: my-movie
  label: My first movie
  blueprint: blueprint.yml
  inputs: inputs.yml
storage:
  backend: local
  root: .renku
execution:
  concurrency: 4
  mode: mock
`

func TestParse(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg, err := Parse([]byte(validConfig))
		require.NoError(t, err)
		assert.Equal(t, "my-movie", cfg.Movie.ID)
		assert.Equal(t, "local", cfg.Storage.Backend)
		assert.Equal(t, 4, cfg.Concurrency())
		assert.Equal(t, "mock", cfg.Mode())
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := Parse([]byte(validConfig + "\nextra: true\n"))
		require.Error(t, err)
	})

	t.Run("unsupported version", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "2.0"
movie: {id: m, blueprint: b.yml}
storage: {backend: memory}
`))
		require.ErrorContains(t, err, "unsupported version")
	})

	t.Run("missing movie id", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1.0"
movie: {blueprint: b.yml}
storage: {backend: memory}
`))
		require.ErrorContains(t, err, "movie.id")
	})

	t.Run("local backend needs a root", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1.0"
movie: {id: m, blueprint: b.yml}
storage: {backend: local}
`))
		require.ErrorContains(t, err, "storage.root")
	})

	t.Run("redis backend needs an addr", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1.0"
movie: {id: m, blueprint: b.yml}
storage: {backend: redis}
`))
		require.ErrorContains(t, err, "storage.redis.addr")
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1.0"
movie: {id: m, blueprint: b.yml}
storage: {backend: s3}
`))
		require.ErrorContains(t, err, "unknown storage backend")
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1.0"
movie: {id: m, blueprint: b.yml}
storage: {backend: memory}
execution: {mode: dryrun}
`))
		require.ErrorContains(t, err, "unknown execution mode")
	})
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
version: "1.0"
movie: {id: m, blueprint: b.yml}
storage: {backend: memory}
`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Concurrency())
	assert.Equal(t, "mock", cfg.Mode())
	assert.Equal(t, "m", cfg.RedisNamespace())
}

func TestRedisAddrOverride(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis-host:6380")
	cfg, err := Parse([]byte(`
version: "1.0"
movie: {id: m, blueprint: b.yml}
storage:
  backend: redis
  redis: {addr: "localhost:6379", namespace: shared}
`))
	require.NoError(t, err)
	assert.Equal(t, "redis-host:6380", cfg.Storage.Redis.Addr)
	assert.Equal(t, "shared", cfg.RedisNamespace())
}
