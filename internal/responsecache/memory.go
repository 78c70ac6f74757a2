package responsecache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	at      time.Time
	payload []byte
}

// MemoryBackend keeps the newest entry per url in a map.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	latest  time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

func (m *MemoryBackend) Get(_ context.Context, url string) ([]byte, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[url]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.payload, e.at, true, nil
}

func (m *MemoryBackend) Put(_ context.Context, at time.Time, url string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[url]; !ok || !at.Before(cur.at) {
		m.entries[url] = memoryEntry{at: at, payload: append([]byte(nil), payload...)}
	}
	if at.After(m.latest) {
		m.latest = at
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	delete(m.entries, url)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) LatestTimestamp(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, !m.latest.IsZero(), nil
}

func (m *MemoryBackend) Close() error { return nil }
