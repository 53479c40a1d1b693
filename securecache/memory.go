package securecache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-memory cache implementation using otter. Entry-level
// expiry is enforced on read; otter's own TTL acts as an eviction sweep for
// entries nobody reads again. Values never leave the process, so the
// implementation counts as secure.
type Memory struct {
	mu      sync.Mutex
	cache   *otter.Cache[string, Entry]
	counter *stats.Counter
}

// NewMemory creates an in-memory cache. sweepTTL bounds how long any entry
// may linger regardless of its own TTL; maxSize bounds the entry count.
func NewMemory(sweepTTL time.Duration, maxSize int) (*Memory, error) {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, Entry]{
		MaximumSize:      maxSize,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryCreating[string, Entry](sweepTTL),
	})

	return &Memory{
		cache:   cache,
		counter: counter,
	}, nil
}

func (m *Memory) Create(ctx context.Context, repository, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := entryKey(repository, key)
	if existing, ok := m.cache.GetIfPresent(k); ok && !existing.Expired(time.Now()) {
		return ErrEntryExists
	}

	m.cache.Set(k, entry)
	return nil
}

func (m *Memory) Read(ctx context.Context, repository, key string) (Entry, bool, error) {
	entry, ok := m.cache.GetIfPresent(entryKey(repository, key))
	if !ok || entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}

	return entry, true, nil
}

func (m *Memory) Update(ctx context.Context, repository, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := entryKey(repository, key)
	if existing, ok := m.cache.GetIfPresent(k); !ok || existing.Expired(time.Now()) {
		return ErrEntryMissing
	}

	m.cache.Set(k, entry)
	return nil
}

func (m *Memory) CreateOrUpdate(ctx context.Context, repository, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Set(entryKey(repository, key), entry)
	return nil
}

func (m *Memory) Delete(ctx context.Context, repository, key string) error {
	m.cache.Invalidate(entryKey(repository, key))
	return nil
}

// Secure is always true: entries are confined to process memory.
func (m *Memory) Secure() bool {
	return true
}

func (m *Memory) Close() error {
	m.cache.InvalidateAll()
	return nil
}
