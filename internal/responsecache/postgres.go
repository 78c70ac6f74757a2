package responsecache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS requests (
  timestamp BIGINT NOT NULL,
  url       TEXT   NOT NULL,
  response  BYTEA  NOT NULL
);
CREATE INDEX IF NOT EXISTS requests_url_ts ON requests(url, timestamp);
CREATE INDEX IF NOT EXISTS requests_ts ON requests(timestamp);
`

type postgresBackend struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("cache.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// The cache owner is the only caller.
	pcfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug("postgres cache opened", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresBackend{pool: pool}, nil
}

func (p *postgresBackend) Get(ctx context.Context, url string) ([]byte, time.Time, bool, error) {
	var (
		payload []byte
		ms      int64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT response, timestamp FROM requests WHERE url = $1 ORDER BY timestamp DESC LIMIT 1`, url,
	).Scan(&payload, &ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return payload, time.UnixMilli(ms), true, nil
}

func (p *postgresBackend) Put(ctx context.Context, at time.Time, url string, payload []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO requests(timestamp, url, response) VALUES($1,$2,$3)`,
		at.UnixMilli(), url, payload,
	)
	return err
}

func (p *postgresBackend) Delete(ctx context.Context, url string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM requests WHERE url = $1`, url)
	return err
}

func (p *postgresBackend) LatestTimestamp(ctx context.Context) (time.Time, bool, error) {
	var ms *int64
	if err := p.pool.QueryRow(ctx, `SELECT MAX(timestamp) FROM requests`).Scan(&ms); err != nil {
		return time.Time{}, false, err
	}
	if ms == nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(*ms), true, nil
}

func (p *postgresBackend) Close() error {
	p.pool.Close()
	return nil
}
