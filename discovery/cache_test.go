package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/grantwell/securecache"
)

// newDiscoveryServer serves a minimal valid discovery document whose issuer
// matches the server's own URL.
func newDiscoveryServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()

	requests := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}

		doc := Document{
			Issuer:                           server.URL,
			AuthorizationEndpoint:            server.URL + "/authorize",
			TokenEndpoint:                    server.URL + "/oauth/token",
			UserInfoEndpoint:                 server.URL + "/userinfo",
			JwksURI:                          server.URL + "/.well-known/jwks.json",
			ResponseTypesSupported:           []string{"code"},
			SubjectTypesSupported:            []string{"public"},
			ScopesSupported:                  []string{"openid", "profile"},
			GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
			IDTokenSigningAlgValuesSupported: []string{"RS256"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)

	return server, &requests
}

func newStore(t *testing.T) *securecache.Memory {
	t.Helper()
	m, err := securecache.NewMemory(time.Hour, 100)
	require.NoError(t, err)
	return m
}

func TestDownload_ResolvesAndSetsCurrent(t *testing.T) {
	server, _ := newDiscoveryServer(t)
	cache := NewCache(server.Client(), nil, DefaultPolicy())

	doc, err := cache.Download(context.Background(), server.URL, false)
	require.NoError(t, err)

	assert.Equal(t, server.URL, doc.Issuer)
	assert.Equal(t, server.URL+"/oauth/token", doc.TokenEndpoint)
	assert.Equal(t, server.URL+"/.well-known/jwks.json", doc.JwksURI)
	assert.False(t, doc.LastUpdated.IsZero())

	assert.Same(t, doc, cache.Current())
}

func TestDownload_CurrentShortCircuits(t *testing.T) {
	server, requests := newDiscoveryServer(t)
	cache := NewCache(server.Client(), nil, DefaultPolicy())

	first, err := cache.Download(context.Background(), server.URL, false)
	require.NoError(t, err)
	require.Equal(t, 1, *requests)

	second, err := cache.Download(context.Background(), server.URL, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, *requests, "no network call expected while current document exists")
}

func TestDownload_RefreshForcesNetworkCall(t *testing.T) {
	server, requests := newDiscoveryServer(t)
	cache := NewCache(server.Client(), nil, DefaultPolicy())

	_, err := cache.Download(context.Background(), server.URL, false)
	require.NoError(t, err)

	_, err = cache.Download(context.Background(), server.URL, true)
	require.NoError(t, err)
	assert.Equal(t, 2, *requests)
}

func TestDownload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	cache := NewCache(server.Client(), nil, DefaultPolicy())

	_, err := cache.Download(context.Background(), server.URL, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDownload_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	t.Cleanup(server.Close)

	cache := NewCache(server.Client(), nil, DefaultPolicy())

	_, err := cache.Download(context.Background(), server.URL, false)
	assert.Error(t, err)
}

func TestDownload_IssuerMismatchRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := Document{Issuer: "https://somebody-else.example.com"}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)

	cache := NewCache(server.Client(), nil, DefaultPolicy())

	_, err := cache.Download(context.Background(), server.URL, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer mismatch")
}

func TestDownload_PersistsToStore(t *testing.T) {
	server, _ := newDiscoveryServer(t)
	store := newStore(t)
	cache := NewCache(server.Client(), store, DefaultPolicy())

	doc, err := cache.Download(context.Background(), server.URL, false)
	require.NoError(t, err)

	endpoint, err := ResolveEndpointURL(server.URL)
	require.NoError(t, err)

	entry, found, err := store.Read(context.Background(), Repository, persistKey(endpoint))
	require.NoError(t, err)
	require.True(t, found)

	persisted := &Document{}
	require.NoError(t, json.Unmarshal(entry.Value, persisted))
	assert.Equal(t, doc.Issuer, persisted.Issuer)
}

func TestTryDownload_FallsBackToStore(t *testing.T) {
	server, _ := newDiscoveryServer(t)
	store := newStore(t)

	// populate the store via a successful download, then take the issuer
	// offline
	warm := NewCache(server.Client(), store, DefaultPolicy())
	token := signedToken(t, server.URL)
	_, err := warm.TryDownloadAndSetCurrent(context.Background(), token, false)
	require.NoError(t, err)
	server.Close()

	// a fresh cache with no current document must resolve from the store
	cold := NewCache(http.DefaultClient, store, DefaultPolicy())
	doc, err := cold.TryDownloadAndSetCurrent(context.Background(), token, false)
	require.NoError(t, err)
	assert.Equal(t, server.URL, doc.Issuer)
	assert.Same(t, doc, cold.Current())
}

func TestTryDownload_NetworkAndCacheUnavailable(t *testing.T) {
	server, _ := newDiscoveryServer(t)
	token := signedToken(t, server.URL)
	server.Close()

	cache := NewCache(http.DefaultClient, nil, DefaultPolicy())

	_, err := cache.TryDownloadAndSetCurrent(context.Background(), token, false)
	assert.Error(t, err)
}

func TestTryDownload_ShortCircuitWithoutForce(t *testing.T) {
	server, requests := newDiscoveryServer(t)
	cache := NewCache(server.Client(), nil, DefaultPolicy())
	token := signedToken(t, server.URL)

	_, err := cache.TryDownloadAndSetCurrent(context.Background(), token, false)
	require.NoError(t, err)

	_, err = cache.TryDownloadAndSetCurrent(context.Background(), token, false)
	require.NoError(t, err)
	assert.Equal(t, 1, *requests)
}

func TestStalenessResolution_NewerWins(t *testing.T) {
	// Staleness is resolved purely by LastUpdated, whether a document came
	// from network or cache: installing an older document never displaces a
	// newer current.
	server, _ := newDiscoveryServer(t)
	cache := NewCache(server.Client(), nil, DefaultPolicy())

	older := &Document{Issuer: "https://a.example.com", LastUpdated: time.Now().Add(-time.Hour)}
	newer := &Document{Issuer: "https://b.example.com", LastUpdated: time.Now()}

	assert.Same(t, older, cache.setCurrent(older))
	assert.Same(t, newer, cache.setCurrent(newer))

	// older candidate loses regardless of arrival order
	assert.Same(t, newer, cache.setCurrent(older))
	assert.Same(t, newer, cache.Current())
}
