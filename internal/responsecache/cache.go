package responsecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zlib"

	rtsup "github.com/plesner/jetnewt/internal/runtime/supervisor"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

type opKind int

const (
	opGet opKind = iota
	opPut
	opDelete
	opLatest
)

type request struct {
	op    opKind
	url   string
	at    time.Time
	body  string
	reply chan reply
}

type reply struct {
	body string
	at   time.Time
	ok   bool
	err  error
}

// Stats counts cache traffic since the cache was opened.
type Stats struct {
	Hits            uint64
	Misses          uint64
	Writes          uint64
	Deletes         uint64
	BytesRaw        uint64
	BytesCompressed uint64
}

// Cache is the single owner of a Backend. Every call is forwarded to one
// goroutine over a channel and answered on a per-call reply channel.
type Cache struct {
	backend Backend
	log     logx.Logger

	reqs chan request
	sup  *rtsup.Supervisor

	closeOnce sync.Once
	closeErr  error

	statsMu sync.Mutex
	stats   Stats
}

// New starts the owner goroutine for b. Close stops it and closes b.
func New(ctx context.Context, b Backend, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cache{
		backend: b,
		log:     log,
		reqs:    make(chan request),
	}
	c.sup = rtsup.New(ctx, rtsup.WithLogger(log.With(logx.String("comp", "responsecache"))))
	c.sup.Go0("responsecache.owner", c.loop)
	return c
}

func (c *Cache) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-c.reqs:
			r.reply <- c.handle(ctx, r)
		}
	}
}

func (c *Cache) handle(ctx context.Context, r request) reply {
	switch r.op {
	case opGet:
		payload, at, ok, err := c.backend.Get(ctx, r.url)
		if err != nil {
			return reply{err: fmt.Errorf("cache get %s: %w", r.url, err)}
		}
		if !ok {
			c.bump(func(s *Stats) { s.Misses++ })
			return reply{}
		}
		body, err := decompress(payload)
		if err != nil {
			return reply{err: fmt.Errorf("cache decode %s: %w", r.url, err)}
		}
		c.bump(func(s *Stats) { s.Hits++ })
		return reply{body: body, at: at, ok: true}

	case opPut:
		payload, err := compress(r.body)
		if err != nil {
			return reply{err: err}
		}
		if err := c.backend.Put(ctx, r.at, r.url, payload); err != nil {
			return reply{err: fmt.Errorf("cache put %s: %w", r.url, err)}
		}
		c.bump(func(s *Stats) {
			s.Writes++
			s.BytesRaw += uint64(len(r.body))
			s.BytesCompressed += uint64(len(payload))
		})
		c.log.Trace("cached response",
			logx.String("url", r.url),
			logx.String("size", humanize.Bytes(uint64(len(r.body)))),
			logx.String("stored", humanize.Bytes(uint64(len(payload)))),
		)
		return reply{}

	case opDelete:
		if err := c.backend.Delete(ctx, r.url); err != nil {
			return reply{err: fmt.Errorf("cache delete %s: %w", r.url, err)}
		}
		c.bump(func(s *Stats) { s.Deletes++ })
		c.log.Debug("dropped cached response", logx.String("url", r.url))
		return reply{}

	case opLatest:
		at, ok, err := c.backend.LatestTimestamp(ctx)
		return reply{at: at, ok: ok, err: err}
	}
	return reply{err: fmt.Errorf("unknown cache op %d", r.op)}
}

func (c *Cache) bump(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

func (c *Cache) call(ctx context.Context, r request) reply {
	if ctx == nil {
		ctx = context.Background()
	}
	r.reply = make(chan reply, 1)
	done := c.sup.Context().Done()
	select {
	case c.reqs <- r:
	case <-done:
		return reply{err: ErrClosed}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
	select {
	case rep := <-r.reply:
		return rep
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
}

// Get returns the newest body stored for url.
func (c *Cache) Get(ctx context.Context, url string) (string, bool, error) {
	rep := c.call(ctx, request{op: opGet, url: url})
	return rep.body, rep.ok, rep.err
}

// Put stores body for url as written at at.
func (c *Cache) Put(ctx context.Context, at time.Time, url, body string) error {
	return c.call(ctx, request{op: opPut, url: url, at: at, body: body}).err
}

// Drop removes every entry for url so the next Get misses.
func (c *Cache) Drop(ctx context.Context, url string) error {
	return c.call(ctx, request{op: opDelete, url: url}).err
}

// LatestTimestamp returns the newest write time in the cache.
func (c *Cache) LatestTimestamp(ctx context.Context) (time.Time, bool, error) {
	rep := c.call(ctx, request{op: opLatest})
	return rep.at, rep.ok, rep.err
}

func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close stops the owner goroutine and closes the backend.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.sup.Stop(ctx); err != nil {
			c.closeErr = err
		}
		if err := c.backend.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		s := c.Stats()
		c.log.Info("response cache closed",
			logx.Uint64("hits", s.Hits),
			logx.Uint64("misses", s.Misses),
			logx.Uint64("writes", s.Writes),
			logx.String("written", humanize.Bytes(s.BytesRaw)),
			logx.String("stored", humanize.Bytes(s.BytesCompressed)),
		)
	})
	return c.closeErr
}

func compress(body string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(payload []byte) (string, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
