// Package tokencache wraps a secure cache so that every security token is
// stored under a single fixed sub-repository, keeping token data apart from
// unrelated cached values and forcing it through the same at-rest
// protection.
package tokencache

import (
	"context"
	"fmt"
	"strings"

	"github.com/chinmina/grantwell/securecache"
)

// SubRepository is the fixed namespace all security tokens are stored under.
const SubRepository = "securityTokens"

// RefreshTokenRepository is the namespace for cached refresh tokens, itself
// nested under SubRepository by key normalization.
const RefreshTokenRepository = "refreshTokens"

// Cache forces every key into the securityTokens sub-repository before
// delegating to the underlying secure cache.
type Cache struct {
	delegate securecache.Cache
}

// New wraps a secure cache. Construction fails if the delegate does not
// protect values at rest: token storage through an insecure cache is a
// configuration error, not a degraded mode.
func New(delegate securecache.Cache) (*Cache, error) {
	if delegate == nil {
		panic("tokencache: nil cache delegate")
	}
	if !delegate.Secure() {
		return nil, fmt.Errorf("token cache requires a secure cache delegate")
	}
	return &Cache{delegate: delegate}, nil
}

// EnsureTokensSubRepository normalizes a slash-segmented key path so its
// first segment is the securityTokens sub-repository:
//   - empty path: the sub-repository name itself
//   - any path not already starting with the sub-repository: prefixed
//
// The function is idempotent: applying it twice yields the same key.
func EnsureTokensSubRepository(key string) string {
	key = strings.Trim(key, "/")
	if key == "" {
		return SubRepository
	}

	first, _, _ := strings.Cut(key, "/")
	if first == SubRepository {
		return key
	}

	return SubRepository + "/" + key
}

// storagePath resolves the (repository, key) pair passed to the delegate.
// The normalized path's leading segment becomes the repository; the rest is
// the key.
func storagePath(repository, key string) (string, string) {
	full := key
	if repository != "" {
		full = repository + "/" + key
	}

	normalized := EnsureTokensSubRepository(full)

	repo, rest, _ := strings.Cut(normalized, "/")
	if rest == "" {
		rest = SubRepository
	}
	return repo, rest
}

func (c *Cache) Create(ctx context.Context, repository, key string, entry securecache.Entry) error {
	repo, k := storagePath(repository, key)
	return c.delegate.Create(ctx, repo, k, entry)
}

func (c *Cache) Read(ctx context.Context, repository, key string) (securecache.Entry, bool, error) {
	repo, k := storagePath(repository, key)
	return c.delegate.Read(ctx, repo, k)
}

func (c *Cache) Update(ctx context.Context, repository, key string, entry securecache.Entry) error {
	repo, k := storagePath(repository, key)
	return c.delegate.Update(ctx, repo, k, entry)
}

func (c *Cache) CreateOrUpdate(ctx context.Context, repository, key string, entry securecache.Entry) error {
	repo, k := storagePath(repository, key)
	return c.delegate.CreateOrUpdate(ctx, repo, k, entry)
}

func (c *Cache) Delete(ctx context.Context, repository, key string) error {
	repo, k := storagePath(repository, key)
	return c.delegate.Delete(ctx, repo, k)
}

// Close releases the underlying cache.
func (c *Cache) Close() error {
	return c.delegate.Close()
}
