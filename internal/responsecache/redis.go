package responsecache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

// Layout:
//   - <prefix>resp:<url>  hash {ts, body}, newest write per url
//   - <prefix>latest      newest write time across all urls (unix ms)
type redisBackend struct {
	c      *redis.Client
	prefix string
}

// putScript keeps the newer of the stored and incoming entry and advances
// the global latest marker. It returns 1 if the entry was written.
var putScript = redis.NewScript(`
local respKey = KEYS[1]
local latestKey = KEYS[2]
local ts = tonumber(ARGV[1])
local cur = tonumber(redis.call('HGET', respKey, 'ts'))
local written = 0
if cur == nil or ts >= cur then
  redis.call('HSET', respKey, 'ts', ARGV[1], 'body', ARGV[2])
  written = 1
end
local latest = tonumber(redis.call('GET', latestKey))
if latest == nil or ts > latest then
  redis.call('SET', latestKey, ARGV[1])
end
return written
`)

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("cache.dsn is required for redis driver")
	}
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "timetabler:"
	}
	log.Debug("redis cache opened", logx.String("addr", opt.Addr), logx.String("prefix", prefix))
	return &redisBackend{c: c, prefix: prefix}, nil
}

func (r *redisBackend) respKey(url string) string { return r.prefix + "resp:" + url }
func (r *redisBackend) latestKey() string         { return r.prefix + "latest" }

func (r *redisBackend) Get(ctx context.Context, url string) ([]byte, time.Time, bool, error) {
	vals, err := r.c.HMGet(ctx, r.respKey(url), "ts", "body").Result()
	if err != nil {
		return nil, time.Time{}, false, err
	}
	tsStr, ok1 := vals[0].(string)
	body, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return []byte(body), time.UnixMilli(ms), true, nil
}

func (r *redisBackend) Put(ctx context.Context, at time.Time, url string, payload []byte) error {
	keys := []string{r.respKey(url), r.latestKey()}
	return putScript.Run(ctx, r.c, keys, at.UnixMilli(), payload).Err()
}

func (r *redisBackend) Delete(ctx context.Context, url string) error {
	return r.c.Del(ctx, r.respKey(url)).Err()
}

func (r *redisBackend) LatestTimestamp(ctx context.Context) (time.Time, bool, error) {
	ms, err := r.c.Get(ctx, r.latestKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (r *redisBackend) Close() error { return r.c.Close() }
