package responsecache

import (
	"context"
	"errors"
	"strings"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

// OpenBackend initializes the configured backend.
func OpenBackend(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "memory", "mem":
		return NewMemoryBackend(), nil
	default:
		return nil, errors.New("unknown cache driver: " + driver)
	}
}

// Open initializes the configured backend and starts a Cache owning it.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Cache, error) {
	b, err := OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return New(ctx, b, log), nil
}
