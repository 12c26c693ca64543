package store

import (
	"context"
	"log"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	FilePath    string
	RedisAddr   string
	RedisPrefix string
	DatabaseURL string
}

// Open returns the configured durable store wrapped in Degrading. If the
// durable store cannot be opened it logs and returns a memory store, so
// callers always get a working Store.
func Open(ctx context.Context, opts Options) Store {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" || backend == "auto" {
		switch {
		case strings.TrimSpace(opts.DatabaseURL) != "":
			backend = "postgres"
		case strings.TrimSpace(opts.RedisAddr) != "":
			backend = "redis"
		case strings.TrimSpace(opts.FilePath) != "":
			backend = "file"
		default:
			backend = "memory"
		}
	}

	var (
		durable Store
		err     error
	)
	switch backend {
	case "postgres":
		durable, err = NewPostgresStore(ctx, opts.DatabaseURL)
	case "redis":
		durable, err = NewRedisStore(ctx, opts.RedisAddr, opts.RedisPrefix)
	case "file":
		durable, err = NewFileStore(opts.FilePath)
	default:
		return NewMemoryStore()
	}
	if err != nil {
		log.Printf("[store] %s backend unavailable, using memory: %v", backend, err)
		return NewMemoryStore()
	}
	return NewDegrading(durable)
}
