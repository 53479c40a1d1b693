package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chinmina/grantwell/securecache"
)

// Repository is the secure-cache namespace for persisted discovery
// documents.
const Repository = "discoveryDocuments"

// HTTPDoer issues HTTP requests. Satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache owns the process's "current" discovery document. It replaces a
// global singleton with an injectable object of defined lifetime, so
// staleness resolution is testable. The current document is only ever
// replaced by one with a newer LastUpdated, whether the candidate came from
// the network or from the persistent cache.
type Cache struct {
	mu      sync.RWMutex
	current *Document

	client HTTPDoer
	store  securecache.Cache
	policy Policy
}

// NewCache creates a discovery cache. The store is optional: when nil, no
// document persists beyond the process. A nil client panics.
func NewCache(client HTTPDoer, store securecache.Cache, policy Policy) *Cache {
	if client == nil {
		panic("discovery: nil HTTP client")
	}
	return &Cache{
		client: client,
		store:  store,
		policy: policy,
	}
}

// Current returns the in-memory current document, nil when none has been
// resolved yet.
func (c *Cache) Current() *Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Download resolves the discovery document for input (a URL or a JWT whose
// issuer is used). When a current document exists and refreshCurrent is
// false, it is returned without any network call. A fresh download is
// stamped with LastUpdated=now, installed as current (newer wins) and, when
// a store is configured, persisted. No retry is attempted at this layer.
func (c *Cache) Download(ctx context.Context, input string, refreshCurrent bool) (*Document, error) {
	if doc := c.Current(); doc != nil && !refreshCurrent {
		return doc, nil
	}

	endpoint, err := ResolveEndpointURL(input)
	if err != nil {
		return nil, err
	}

	doc, err := c.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	doc = c.setCurrent(doc)
	c.persist(ctx, endpoint, doc)

	return doc, nil
}

// TryDownloadAndSetCurrent resolves a discovery document for flows that
// only hold an identity token. When force is false and a current document
// exists, it is returned unchanged. Otherwise a download is attempted; on
// failure, the persisted cache is consulted. Whichever document is resolved
// only replaces current if its LastUpdated is newer.
func (c *Cache) TryDownloadAndSetCurrent(ctx context.Context, rawToken string, force bool) (*Document, error) {
	if doc := c.Current(); doc != nil && !force {
		return doc, nil
	}

	endpoint, err := ResolveEndpointURL(rawToken)
	if err != nil {
		return nil, err
	}

	doc, err := c.fetch(ctx, endpoint)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).
			Msg("discovery download failed, falling back to cached document")

		cached, found := c.readPersisted(ctx, endpoint)
		if !found {
			return nil, fmt.Errorf("discovery document unavailable from network and cache: %w", err)
		}
		return c.setCurrent(cached), nil
	}

	doc = c.setCurrent(doc)
	c.persist(ctx, endpoint, doc)

	return doc, nil
}

// fetch downloads and validates the document at the endpoint.
func (c *Cache) fetch(ctx context.Context, endpoint string) (*Document, error) {
	if err := c.policy.CheckEndpoint(endpoint); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("discovery endpoint answered %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading discovery response: %w", err)
	}

	doc := &Document{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("malformed discovery document: %w", err)
	}

	doc.LastUpdated = time.Now().UTC()

	if err := c.policy.CheckDocument(doc, endpoint); err != nil {
		return nil, err
	}

	return doc, nil
}

// setCurrent installs doc as current if it is newer, returning whichever
// document wins.
func (c *Cache) setCurrent(doc *Document) *Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	if doc.IsNewerThan(c.current) {
		c.current = doc
	}
	return c.current
}

// persist writes the document to the configured store, best effort.
func (c *Cache) persist(ctx context.Context, endpoint string, doc *Document) {
	if c.store == nil {
		return
	}

	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Msg("discovery document not persisted")
		return
	}

	entry := securecache.Entry{
		Value:     data,
		SpawnTime: doc.LastUpdated,
		// documents have no TTL: staleness is resolved by comparing
		// LastUpdated timestamps, not elapsed time
		TTL: 0,
	}

	if err := c.store.CreateOrUpdate(ctx, Repository, persistKey(endpoint), entry); err != nil {
		log.Warn().Err(err).Msg("discovery document not persisted")
	}
}

// readPersisted loads a previously stored document for the endpoint.
func (c *Cache) readPersisted(ctx context.Context, endpoint string) (*Document, bool) {
	if c.store == nil {
		return nil, false
	}

	entry, found, err := c.store.Read(ctx, Repository, persistKey(endpoint))
	if err != nil || !found {
		return nil, false
	}

	doc := &Document{}
	if err := json.Unmarshal(entry.Value, doc); err != nil {
		log.Warn().Err(err).Msg("persisted discovery document unreadable, ignoring")
		return nil, false
	}

	return doc, true
}

// persistKey derives a stable cache key from the endpoint URL.
func persistKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return url.PathEscape(endpoint)
	}
	return u.Host
}
