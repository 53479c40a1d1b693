// Package securecache provides the time-limited key/value store backing the
// token cache. Entries are scoped by (repository, key) and carry their own
// TTL and spawn time, allowing readers to recompute remaining lifespans.
package securecache

import (
	"context"
	"errors"
	"time"
)

// Entry is one cached value with its lifetime metadata. SpawnTime records
// when the value was issued; TTL is the lifetime measured from SpawnTime.
type Entry struct {
	Value     []byte        `json:"value"`
	SpawnTime time.Time     `json:"spawnTime"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry's lifetime has elapsed at the given
// instant. Entries with no TTL never expire by themselves.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.SpawnTime.Add(e.TTL))
}

// Remaining returns the entry lifetime left at the given instant. Zero TTL
// entries report zero remaining time.
func (e Entry) Remaining(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	remaining := e.TTL - now.Sub(e.SpawnTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

var (
	// ErrEntryExists is returned by Create when the (repository, key) slot is
	// already occupied.
	ErrEntryExists = errors.New("cache entry already exists")

	// ErrEntryMissing is returned by Update when the (repository, key) slot
	// is empty.
	ErrEntryMissing = errors.New("cache entry does not exist")
)

// Cache is the secure key/value store consumed by the engine. Absent keys
// are not errors: Read reports found=false. Single-key write atomicity is
// delegated to the implementation.
type Cache interface {
	// Create stores a new entry, failing with ErrEntryExists if one is
	// already present.
	Create(ctx context.Context, repository, key string, entry Entry) error

	// Read retrieves an entry. Expired entries are reported as not found.
	Read(ctx context.Context, repository, key string) (Entry, bool, error)

	// Update replaces an existing entry, failing with ErrEntryMissing if
	// none is present.
	Update(ctx context.Context, repository, key string, entry Entry) error

	// CreateOrUpdate stores an entry unconditionally.
	CreateOrUpdate(ctx context.Context, repository, key string, entry Entry) error

	// Delete removes an entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, repository, key string) error

	// Secure reports whether the implementation protects values at rest.
	// Consumers storing security tokens must refuse insecure caches.
	Secure() bool

	// Close releases any resources held by the cache.
	Close() error
}

// entryKey joins a repository and key into the flat key space used by the
// implementations.
func entryKey(repository, key string) string {
	if repository == "" {
		return key
	}
	return repository + "/" + key
}
