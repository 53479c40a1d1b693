package flow

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/grantwell/config"
	"github.com/chinmina/grantwell/credential"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/securecache"
	"github.com/chinmina/grantwell/tokencache"
)

func testConfig() config.Config {
	return config.Config{
		Authority: config.AuthorityConfig{
			TokenURL: "https://auth.example.com/oauth/token",
		},
		Client: config.ClientConfig{
			ID:     "abc",
			Secret: "s3cret",
			Scope:  "openid profile",
		},
		Policy: config.PolicyConfig{
			GrantCaching:   true,
			RefreshAllowed: true,
		},
	}
}

func testTokenCache(t *testing.T) *tokencache.Cache {
	t.Helper()

	memory, err := securecache.NewMemory(time.Hour, 100)
	require.NoError(t, err)

	cache, err := tokencache.New(memory)
	require.NoError(t, err)
	return cache
}

type credentialsProviderFunc func(ctx context.Context, authCtx AuthContext) (credential.Credentials, bool, error)

func (f credentialsProviderFunc) AppCredentials(ctx context.Context, authCtx AuthContext) (credential.Credentials, bool, error) {
	return f(ctx, authCtx)
}

func TestAppCredentials_ConfigFallback(t *testing.T) {
	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient))
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())

	creds, err := svc.AppCredentials(context.Background(), authCtx)
	require.NoError(t, err)
	assert.Equal(t, "abc", creds.Identity)
	assert.Equal(t, "s3cret", creds.Secret)
}

func TestAppCredentials_DelegatePrecedence(t *testing.T) {
	delegate := credentialsProviderFunc(func(ctx context.Context, authCtx AuthContext) (credential.Credentials, bool, error) {
		return credential.Credentials{Identity: "delegated", Secret: "d-secret"}, true, nil
	})

	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient), WithCredentialsProvider(delegate))
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())

	creds, err := svc.AppCredentials(context.Background(), authCtx)
	require.NoError(t, err)
	assert.Equal(t, "delegated", creds.Identity)
}

func TestAppCredentials_DelegateFallsThrough(t *testing.T) {
	delegate := credentialsProviderFunc(func(ctx context.Context, authCtx AuthContext) (credential.Credentials, bool, error) {
		return credential.Credentials{}, false, nil
	})

	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient), WithCredentialsProvider(delegate))
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())

	creds, err := svc.AppCredentials(context.Background(), authCtx)
	require.NoError(t, err)
	assert.Equal(t, "abc", creds.Identity)
}

func TestAppCredentials_MissingClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Client = config.ClientConfig{}

	svc := NewService(cfg, StaticHTTPClient(http.DefaultClient))
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())

	_, err := svc.AppCredentials(context.Background(), authCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValidateBasicAuthCredentials(t *testing.T) {
	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient))

	basic, err := svc.ValidateBasicAuthCredentials(credential.Credentials{Identity: "a", Secret: "b"})
	require.NoError(t, err)
	assert.Equal(t, "a", basic.Identity)

	_, err = svc.ValidateBasicAuthCredentials(credential.Credentials{Identity: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestGrantCachingEnabled(t *testing.T) {
	cache := testTokenCache(t)

	tests := []struct {
		name     string
		caching  bool
		allowed  bool
		hasCache bool
		write    bool
		expected bool
	}{
		{"read allowed", true, true, true, false, true},
		{"read disallowed by options", true, false, true, false, false},
		{"write allowed even when reads disabled", true, false, true, true, true},
		{"globally disabled", false, true, true, true, false},
		{"no cache", true, true, false, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Policy.GrantCaching = tc.caching

			opts := []ServiceOption{}
			if tc.hasCache {
				opts = append(opts, WithTokenCache(cache))
			}
			svc := NewService(cfg, StaticHTTPClient(http.DefaultClient), opts...)

			options := grant.DefaultOptions()
			options.CachingAllowed = tc.allowed
			authCtx := svc.NewAuthContext(GrantTypeClientCredentials, options)

			assert.Equal(t, tc.expected, svc.grantCachingEnabled(authCtx, tc.write))
		})
	}
}

func TestCachedGrant_LifespanRecomputed(t *testing.T) {
	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient), WithTokenCache(testTokenCache(t)))
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())

	// cache a grant issued in the past with a one hour lifespan
	issued := time.Now().Add(-10 * time.Minute)
	expires := issued.Add(time.Hour)
	g := grant.New("", grant.NewTokenInfo(grant.RoleAccessToken, "cached-token", &expires))

	value, err := json.Marshal(g)
	require.NoError(t, err)

	entry := securecache.Entry{Value: value, SpawnTime: issued, TTL: time.Hour}
	require.NoError(t, svc.cache.CreateOrUpdate(context.Background(), authCtx.CacheRepository(), authCtx.CacheKey(), entry))

	read, found := svc.CachedGrant(context.Background(), authCtx)
	require.True(t, found)
	assert.Equal(t, "cached-token", read.AccessToken())

	// remaining lifespan is recomputed from spawn time: about 50 minutes
	assert.WithinDuration(t, time.Now().Add(50*time.Minute), read.Expires(), 5*time.Second)
}

func TestCachedGrant_ExpiredEntryIsMiss(t *testing.T) {
	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient), WithTokenCache(testTokenCache(t)))
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())

	issued := time.Now().Add(-2 * time.Hour)
	expires := issued.Add(time.Hour)
	g := grant.New("", grant.NewTokenInfo(grant.RoleAccessToken, "stale", &expires))

	value, err := json.Marshal(g)
	require.NoError(t, err)

	entry := securecache.Entry{Value: value, SpawnTime: issued, TTL: time.Hour}
	require.NoError(t, svc.cache.CreateOrUpdate(context.Background(), authCtx.CacheRepository(), authCtx.CacheKey(), entry))

	_, found := svc.CachedGrant(context.Background(), authCtx)
	assert.False(t, found)
}

func TestCachedGrant_ReadDisabledByOptions(t *testing.T) {
	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient), WithTokenCache(testTokenCache(t)))

	options := grant.DefaultOptions()
	options.CachingAllowed = false
	authCtx := svc.NewAuthContext(GrantTypeClientCredentials, options)

	expires := time.Now().Add(time.Hour)
	g := grant.New("", grant.NewTokenInfo(grant.RoleAccessToken, "hidden", &expires))
	svc.CacheGrant(context.Background(), authCtx, g)

	// the write above succeeded despite reads being disabled
	readCtx := svc.NewAuthContext(GrantTypeClientCredentials, grant.DefaultOptions())
	cached, found := svc.CachedGrant(context.Background(), readCtx)
	require.True(t, found)
	assert.Equal(t, "hidden", cached.AccessToken())

	// but the original context cannot read it back
	_, found = svc.CachedGrant(context.Background(), authCtx)
	assert.False(t, found)
}

func TestRefreshTokenCache_RoundTrip(t *testing.T) {
	svc := NewService(testConfig(), StaticHTTPClient(http.DefaultClient), WithTokenCache(testTokenCache(t)))

	svc.CacheRefreshToken(context.Background(), "abc", "refresh-1")

	token, found := svc.CachedRefreshToken(context.Background(), "abc")
	require.True(t, found)
	assert.Equal(t, "refresh-1", token)

	_, found = svc.CachedRefreshToken(context.Background(), "other")
	assert.False(t, found)
}

func TestAuthContext_CacheKeyPrefersActor(t *testing.T) {
	options := grant.DefaultOptions()
	options.ActorID = "user-42"

	authCtx := NewAuthContext(testConfig(), GrantTypeDeviceCode, options)
	assert.Equal(t, "user-42", authCtx.CacheKey())

	authCtx = NewAuthContext(testConfig(), GrantTypeDeviceCode, grant.DefaultOptions())
	assert.Equal(t, "abc", authCtx.CacheKey())
}

func TestAuthContext_ForceDisablesCacheAndRefresh(t *testing.T) {
	options := grant.DefaultOptions()
	options.Force = true

	authCtx := NewAuthContext(testConfig(), GrantTypeClientCredentials, options)
	assert.False(t, authCtx.Options.CachingAllowed)
	assert.False(t, authCtx.Options.RefreshAllowed)
}

func TestAuthContext_ScopeOverride(t *testing.T) {
	options := grant.DefaultOptions()
	options.Scope = []string{"custom.read"}

	authCtx := NewAuthContext(testConfig(), GrantTypeClientCredentials, options)
	assert.Equal(t, "custom.read", authCtx.ScopeString())

	authCtx = NewAuthContext(testConfig(), GrantTypeClientCredentials, grant.DefaultOptions())
	assert.Equal(t, "openid profile", authCtx.ScopeString())

	authCtx.Scope = nil
	assert.Equal(t, "", authCtx.ScopeString())
}
