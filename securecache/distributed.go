package securecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// defaultEntryTTL bounds server-side retention for entries that carry no TTL
// of their own.
const defaultEntryTTL = 24 * time.Hour

// Distributed implements Cache using Valkey with server-assisted client-side
// caching. Entries are JSON-serialized and passed through the configured
// EncryptionStrategy before storage.
type Distributed struct {
	client   valkey.Client
	strategy EncryptionStrategy
}

// NewDistributed creates a Valkey-backed cache. The strategy parameter
// controls encryption of stored values; nil defaults to NoEncryptionStrategy.
func NewDistributed(valkeyClient valkey.Client, strategy EncryptionStrategy) (*Distributed, error) {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	return &Distributed{
		client:   valkeyClient,
		strategy: strategy,
	}, nil
}

func (d *Distributed) Create(ctx context.Context, repository, key string, entry Entry) error {
	value, ttlSeconds, err := d.encode(ctx, repository, key, entry)
	if err != nil {
		return err
	}

	storageKey := d.storageKey(repository, key)
	cmd := d.client.B().Set().Key(storageKey).Value(value).Nx().ExSeconds(ttlSeconds).Build()
	result := d.client.Do(ctx, cmd)
	if err := result.Error(); err != nil {
		// SET NX answers nil when the key already holds a value
		if valkey.IsValkeyNil(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("failed to create cached value: %w", err)
	}
	return nil
}

func (d *Distributed) Read(ctx context.Context, repository, key string) (Entry, bool, error) {
	storageKey := d.storageKey(repository, key)

	// Use DoCache for server-assisted client-side caching
	cmd := d.client.B().Get().Key(storageKey).Cache()
	result := d.client.DoCache(ctx, cmd, defaultEntryTTL)

	if err := result.Error(); err != nil {
		// Key not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to convert cached value to string: %w", err)
	}

	data, err := d.strategy.DecryptValue(ctx, val, entryKey(repository, key))
	if err != nil {
		// Best-effort invalidation of the corrupted entry.
		_ = d.client.Do(ctx, d.client.B().Del().Key(storageKey).Build()).Error()

		return Entry{}, false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal cached entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}

	return entry, true, nil
}

func (d *Distributed) Update(ctx context.Context, repository, key string, entry Entry) error {
	value, ttlSeconds, err := d.encode(ctx, repository, key, entry)
	if err != nil {
		return err
	}

	storageKey := d.storageKey(repository, key)
	cmd := d.client.B().Set().Key(storageKey).Value(value).Xx().ExSeconds(ttlSeconds).Build()
	result := d.client.Do(ctx, cmd)
	if err := result.Error(); err != nil {
		// SET XX answers nil when the key holds no value
		if valkey.IsValkeyNil(err) {
			return ErrEntryMissing
		}
		return fmt.Errorf("failed to update cached value: %w", err)
	}
	return nil
}

func (d *Distributed) CreateOrUpdate(ctx context.Context, repository, key string, entry Entry) error {
	value, ttlSeconds, err := d.encode(ctx, repository, key, entry)
	if err != nil {
		return err
	}

	storageKey := d.storageKey(repository, key)
	cmd := d.client.B().Set().Key(storageKey).Value(value).ExSeconds(ttlSeconds).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

func (d *Distributed) Delete(ctx context.Context, repository, key string) error {
	cmd := d.client.B().Del().Key(d.storageKey(repository, key)).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to invalidate cached value: %w", err)
	}
	return nil
}

// Secure reports whether values are protected at rest: true only when an
// encrypting strategy is configured.
func (d *Distributed) Secure() bool {
	return d.strategy.Secure()
}

// Close releases resources associated with the cache client and encryption strategy.
func (d *Distributed) Close() error {
	if err := d.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	d.client.Close()
	return nil
}

func (d *Distributed) storageKey(repository, key string) string {
	return d.strategy.StorageKey(entryKey(repository, key))
}

// encode serializes and encrypts an entry, returning the storage value and
// the server-side expiry in whole seconds.
func (d *Distributed) encode(ctx context.Context, repository, key string, entry Entry) (string, int64, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal entry: %w", err)
	}

	value, err := d.strategy.EncryptValue(ctx, data, entryKey(repository, key))
	if err != nil {
		return "", 0, fmt.Errorf("failed to encrypt entry: %w", err)
	}

	ttl := entry.TTL
	if ttl <= 0 {
		ttl = defaultEntryTTL
	}

	// round up so sub-second TTLs reach the server as at least one second;
	// SET rejects a zero EX
	seconds := int64((ttl + time.Second - 1) / time.Second)

	return value, seconds, nil
}
