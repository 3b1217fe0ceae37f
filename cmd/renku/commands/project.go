package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/internal/config"
	"github.com/keremk/renku-sub006/internal/printer"
	"github.com/keremk/renku-sub006/internal/storage"
)

// project resolves the effective settings of one invocation: renku.yml where
// present, overridden by flags.
type project struct {
	movieID       string
	blueprintPath string
	inputsPath    string
	cfg           *config.Config // nil when no config file was found
}

// resolveProject merges the config file and global flags. blueprintPath and
// inputsPath come from command-local flags and fall back to the config.
func resolveProject(blueprintPath, inputsPath string) (*project, error) {
	p := &project{blueprintPath: blueprintPath, inputsPath: inputsPath}

	path := flagConfig
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, printer.Error(
				"invalid configuration",
				err.Error(),
				[]string{fmt.Sprintf("Fix %s or pass --movie-id and --storage flags directly", path)},
			)
		}
		p.cfg = cfg
		p.movieID = cfg.Movie.ID
		if p.blueprintPath == "" {
			p.blueprintPath = cfg.Movie.Blueprint
		}
		if p.inputsPath == "" {
			p.inputsPath = cfg.Movie.Inputs
		}
	}

	if flagMovieID != "" {
		p.movieID = flagMovieID
	}
	if p.movieID == "" {
		return nil, printer.Error(
			"no movie selected",
			"Renku needs to know which movie to operate on.",
			[]string{"Pass --movie-id", "Create a renku.yml with a movie.id entry"},
		)
	}
	return p, nil
}

// openBackend builds the storage backend from flags and config. The returned
// cleanup closes network-backed stores and is safe to call on every path.
func (p *project) openBackend() (storage.Backend, func(), error) {
	kind := flagStorage
	if kind == "" && p.cfg != nil {
		kind = p.cfg.Storage.Backend
	}
	if kind == "" {
		kind = "local"
	}

	noop := func() {}
	switch kind {
	case "local":
		root := flagStorageRoot
		if root == "" && p.cfg != nil {
			root = p.cfg.Storage.Root
		}
		if root == "" {
			root = ".renku"
		}
		backend, err := storage.NewLocal(root)
		if err != nil {
			return nil, noop, printer.Error("cannot open local storage", err.Error(), nil)
		}
		return backend, noop, nil

	case "redis":
		addr := flagRedisAddr
		db := 0
		namespace := p.movieID
		if p.cfg != nil && p.cfg.Storage.Redis != nil {
			if addr == "" {
				addr = p.cfg.Storage.Redis.Addr
			}
			db = p.cfg.Storage.Redis.DB
			namespace = p.cfg.RedisNamespace()
		}
		if addr == "" {
			return nil, noop, printer.Error(
				"redis backend needs an address",
				"No Redis address was configured.",
				[]string{"Pass --redis-addr host:port", "Set storage.redis.addr in renku.yml"},
			)
		}
		backend, err := storage.NewRedis(&redis.Options{Addr: addr, DB: db}, namespace)
		if err != nil {
			return nil, noop, printer.Error("cannot open redis storage", err.Error(), nil)
		}
		return backend, func() { backend.Close() }, nil

	case "memory":
		return storage.NewMemory(), noop, nil

	default:
		return nil, noop, printer.Error(
			"unknown storage backend",
			fmt.Sprintf("Backend %q is not supported.", kind),
			[]string{"Valid backends: local, redis, memory"},
		)
	}
}

// loadBlueprint reads and parses the blueprint document.
func (p *project) loadBlueprint() (*blueprint.Document, error) {
	if p.blueprintPath == "" {
		return nil, printer.Error(
			"no blueprint",
			"Renku needs the blueprint that declares the movie's producers.",
			[]string{"Pass --blueprint path/to/blueprint.yml", "Set movie.blueprint in renku.yml"},
		)
	}
	data, err := os.ReadFile(p.blueprintPath)
	if err != nil {
		return nil, printer.Error("cannot read blueprint", err.Error(), nil)
	}
	doc, err := blueprint.Parse(data)
	if err != nil {
		return nil, printer.Error("invalid blueprint", err.Error(), nil)
	}
	return doc, nil
}

// loadInputs reads and canonicalizes the inputs file against the blueprint.
// An empty path yields an empty input set, which fails later only if the
// blueprint declares required inputs.
func (p *project) loadInputs(doc *blueprint.Document) (*blueprint.InputSet, error) {
	if p.inputsPath == "" {
		in, err := blueprint.ParseInputs([]byte("{}\n"), ".", doc)
		if err != nil {
			return nil, printer.Error("missing inputs", err.Error(),
				[]string{"Pass --inputs path/to/inputs.yml"})
		}
		return in, nil
	}
	in, err := blueprint.LoadInputs(p.inputsPath, doc)
	if err != nil {
		return nil, printer.Error("invalid inputs", err.Error(), nil)
	}
	return in, nil
}
