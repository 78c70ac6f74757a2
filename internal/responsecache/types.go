package responsecache

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("response cache closed")

// Config configures the cache backend.
//
// Driver values:
//   - "sqlite": database file at Path
//   - "postgres": DSN is a postgres connection string
//   - "redis": DSN is a redis:// URL; KeyPrefix namespaces keys
//   - "memory": nothing is persisted
type Config struct {
	Driver      string
	Path        string
	DSN         string
	KeyPrefix   string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Backend stores compressed payloads keyed by url. Several entries may
// exist for one url; Get returns the one with the highest timestamp.
//
// Implementations need not be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, url string) (payload []byte, at time.Time, ok bool, err error)
	Put(ctx context.Context, at time.Time, url string, payload []byte) error
	Delete(ctx context.Context, url string) error
	// LatestTimestamp returns the newest write time across all urls.
	LatestTimestamp(ctx context.Context) (time.Time, bool, error)
	Close() error
}
