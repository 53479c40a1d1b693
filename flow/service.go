// Package flow implements the OAuth2 grant acquisition flows: client
// credentials, device code, authorization code and refresh token. Each flow
// shares the Service base for credential resolution, grant caching and
// refresh orchestration, and returns an Outcome describing what happened.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chinmina/grantwell/config"
	"github.com/chinmina/grantwell/credential"
	"github.com/chinmina/grantwell/discovery"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/outcome"
	"github.com/chinmina/grantwell/securecache"
	"github.com/chinmina/grantwell/tokencache"
)

// ErrConfiguration marks terminal configuration failures: no network call
// was made and retrying without a configuration change cannot succeed.
var ErrConfiguration = errors.New("configuration error")

// CredentialsProvider supplies application credentials, consulted before
// the configured client id/secret. Absence (found=false) is not an error;
// resolution falls through to configuration.
type CredentialsProvider interface {
	AppCredentials(ctx context.Context, authCtx AuthContext) (credential.Credentials, bool, error)
}

// Refresher performs a silent refresh-token exchange on behalf of another
// flow. Implemented by RefreshToken.
type Refresher interface {
	Refresh(ctx context.Context, authCtx AuthContext, refreshToken string) outcome.Outcome[*grant.Grant]
}

// Service is the shared base for all grant flows: credential resolution,
// grant cache read/write and refresh delegation. Concrete flows embed it
// and add only their protocol-specific exchange.
type Service struct {
	cfg         config.Config
	clients     HTTPClientProvider
	cache       *tokencache.Cache
	discovery   *discovery.Cache
	credentials CredentialsProvider
	refresher   Refresher
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithTokenCache attaches the grant/refresh-token cache. Without one, every
// acquisition performs the full exchange.
func WithTokenCache(cache *tokencache.Cache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithDiscovery attaches a discovery cache, enabling endpoint resolution
// from OIDC metadata when explicit endpoint URLs are not configured.
func WithDiscovery(dc *discovery.Cache) ServiceOption {
	return func(s *Service) { s.discovery = dc }
}

// WithCredentialsProvider attaches a credentials delegate consulted before
// the configured client id/secret.
func WithCredentialsProvider(p CredentialsProvider) ServiceOption {
	return func(s *Service) { s.credentials = p }
}

// WithRefresher attaches the refresh-token flow used for silent renewal.
func WithRefresher(r Refresher) ServiceOption {
	return func(s *Service) { s.refresher = r }
}

// NewService creates the shared flow base. A nil client provider panics.
func NewService(cfg config.Config, clients HTTPClientProvider, opts ...ServiceOption) *Service {
	if clients == nil {
		panic("flow: nil HTTP client provider")
	}

	s := &Service{cfg: cfg, clients: clients}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAuthContext resolves the auth context for one request against the
// service configuration.
func (s *Service) NewAuthContext(grantType string, options grant.Options) AuthContext {
	return NewAuthContext(s.cfg, grantType, options)
}

// AppCredentials resolves application credentials: the delegate first, then
// the configured client id/secret. A request with no resolvable client id
// is a terminal configuration failure.
func (s *Service) AppCredentials(ctx context.Context, authCtx AuthContext) (credential.Credentials, error) {
	if s.credentials != nil {
		creds, found, err := s.credentials.AppCredentials(ctx, authCtx)
		if err != nil {
			return credential.Credentials{}, fmt.Errorf("credentials delegate: %w", err)
		}
		if found {
			return creds, nil
		}
	}

	creds := credential.Credentials{
		Identity: authCtx.ClientID,
		Secret:   authCtx.ClientSecret,
	}

	if creds.Identity == "" {
		return credential.Credentials{}, fmt.Errorf("%w: no client id resolvable", ErrConfiguration)
	}

	return creds, nil
}

// ValidateBasicAuthCredentials normalizes credentials to the basic-auth
// form, failing when identity or secret is missing.
func (s *Service) ValidateBasicAuthCredentials(creds credential.Credentials) (credential.BasicAuthCredentials, error) {
	if !creds.IsComplete() {
		return credential.BasicAuthCredentials{}, fmt.Errorf("%w: client credentials incomplete", ErrConfiguration)
	}
	return credential.FromCredentials(creds), nil
}

// grantCachingEnabled reports whether the cache may serve this request. A
// write is permitted even when the request disallows cache reads, so a
// forced acquisition still primes the cache for future silent use.
func (s *Service) grantCachingEnabled(authCtx AuthContext, write bool) bool {
	if s.cache == nil || !s.cfg.Policy.GrantCaching {
		return false
	}
	return authCtx.Options.CachingAllowed || write
}

// CachedGrant reads a previously cached grant for the context. The grant's
// remaining lifespan is recomputed from the cache entry's spawn time, not
// taken from the stored value; a grant with no lifespan left is a miss.
// Cache errors degrade to a miss.
func (s *Service) CachedGrant(ctx context.Context, authCtx AuthContext) (*grant.Grant, bool) {
	if !s.grantCachingEnabled(authCtx, false) {
		return nil, false
	}

	entry, found, err := s.cache.Read(ctx, authCtx.CacheRepository(), authCtx.CacheKey())
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("grant cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}

	g := &grant.Grant{}
	if err := json.Unmarshal(entry.Value, g); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("cached grant unreadable, ignoring")
		return nil, false
	}

	now := time.Now()
	if entry.TTL > 0 {
		remaining := entry.Remaining(now)
		if remaining <= 0 {
			return nil, false
		}
		g = g.WithRemainingLifespan(now, remaining)
	}

	if g.IsExpired(now) {
		return nil, false
	}

	return g, true
}

// CacheGrant writes a freshly obtained grant, keyed by the context. The
// entry TTL is derived from the grant's expiry. Failures are logged, never
// surfaced: caching is an optimization, not a correctness requirement.
func (s *Service) CacheGrant(ctx context.Context, authCtx AuthContext, g *grant.Grant) {
	if !s.grantCachingEnabled(authCtx, true) {
		return
	}

	value, err := json.Marshal(g)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("grant not cached")
		return
	}

	now := time.Now()
	var ttl time.Duration
	if expires := g.Expires(); !expires.IsZero() {
		ttl = expires.Sub(now)
		if ttl <= 0 {
			return
		}
	}

	entry := securecache.Entry{Value: value, SpawnTime: now, TTL: ttl}
	if err := s.cache.CreateOrUpdate(ctx, authCtx.CacheRepository(), authCtx.CacheKey(), entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("grant not cached")
	}
}

// CachedRefreshToken reads the refresh token stored for the credential
// identity.
func (s *Service) CachedRefreshToken(ctx context.Context, identity string) (string, bool) {
	if s.cache == nil || identity == "" {
		return "", false
	}

	entry, found, err := s.cache.Read(ctx, tokencache.RefreshTokenRepository, identity)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("refresh token cache read failed")
		return "", false
	}
	if !found {
		return "", false
	}

	return string(entry.Value), true
}

// CacheRefreshToken stores a refresh token for the credential identity.
// Refresh tokens carry no expiry of their own; the cache's sweep lifetime
// bounds retention.
func (s *Service) CacheRefreshToken(ctx context.Context, identity, token string) {
	if s.cache == nil || identity == "" || token == "" {
		return
	}

	entry := securecache.Entry{Value: []byte(token), SpawnTime: time.Now()}
	if err := s.cache.CreateOrUpdate(ctx, tokencache.RefreshTokenRepository, identity, entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("refresh token not cached")
	}
}

// refreshingAllowed reports whether a silent refresh may be attempted for
// the request.
func (s *Service) refreshingAllowed(authCtx AuthContext) bool {
	return s.refresher != nil && s.cfg.Policy.RefreshAllowed && authCtx.Options.RefreshAllowed
}

// TryRefresh attempts a silent refresh-token exchange using the cached
// refresh token for the identity. A failed refresh is logged and reported
// as not-refreshed so the caller falls through to the full exchange.
func (s *Service) TryRefresh(ctx context.Context, authCtx AuthContext, identity string) (*grant.Grant, bool) {
	if !s.refreshingAllowed(authCtx) {
		return nil, false
	}

	token, found := s.CachedRefreshToken(ctx, identity)
	if !found {
		return nil, false
	}

	result := s.refresher.Refresh(ctx, authCtx, token)
	if !result.Succeeded() {
		log.Ctx(ctx).Debug().Err(result.Err()).Str("message", result.Message()).
			Msg("silent refresh failed, falling through to full exchange")
		return nil, false
	}

	return result.Value(), true
}

// discoveryDocument resolves the OIDC metadata for the context's authority.
func (s *Service) discoveryDocument(ctx context.Context, authCtx AuthContext) (*discovery.Document, error) {
	if s.discovery == nil {
		return nil, fmt.Errorf("%w: no discovery cache configured", ErrConfiguration)
	}

	input := authCtx.DiscoveryURL
	if input == "" {
		input = authCtx.AuthorityURL
	}
	if input == "" {
		return nil, fmt.Errorf("%w: no authority or discovery URL configured", ErrConfiguration)
	}

	return s.discovery.Download(ctx, input, false)
}

// resolveTokenEndpoint returns the token endpoint: explicit configuration
// first, discovery metadata otherwise.
func (s *Service) resolveTokenEndpoint(ctx context.Context, authCtx AuthContext) (string, error) {
	if authCtx.TokenURL != "" {
		return authCtx.TokenURL, nil
	}

	doc, err := s.discoveryDocument(ctx, authCtx)
	if err != nil {
		return "", err
	}
	if doc.TokenEndpoint == "" {
		return "", fmt.Errorf("%w: discovery document names no token endpoint", ErrConfiguration)
	}
	return doc.TokenEndpoint, nil
}

// resolveDeviceAuthEndpoint returns the device authorization endpoint.
func (s *Service) resolveDeviceAuthEndpoint(ctx context.Context, authCtx AuthContext) (string, error) {
	if authCtx.DeviceAuthURL != "" {
		return authCtx.DeviceAuthURL, nil
	}

	doc, err := s.discoveryDocument(ctx, authCtx)
	if err != nil {
		return "", err
	}
	if doc.DeviceAuthorizationEndpoint == "" {
		return "", fmt.Errorf("%w: discovery document names no device authorization endpoint", ErrConfiguration)
	}
	return doc.DeviceAuthorizationEndpoint, nil
}

// resolveAuthorizationEndpoint returns the interactive authorization
// endpoint.
func (s *Service) resolveAuthorizationEndpoint(ctx context.Context, authCtx AuthContext) (string, error) {
	if authCtx.AuthorizationURL != "" {
		return authCtx.AuthorizationURL, nil
	}

	doc, err := s.discoveryDocument(ctx, authCtx)
	if err != nil {
		return "", err
	}
	if doc.AuthorizationEndpoint == "" {
		return "", fmt.Errorf("%w: discovery document names no authorization endpoint", ErrConfiguration)
	}
	return doc.AuthorizationEndpoint, nil
}

// dumpState writes the resolved request state at debug level, secrets
// redacted. Absence of a debug logger changes nothing but observability.
func (s *Service) dumpState(ctx context.Context, authCtx AuthContext, creds credential.Credentials) {
	log.Ctx(ctx).Debug().
		EmbedObject(authCtx).
		Str("credentialIdentity", creds.Identity).
		Bool("credentialSecretSet", creds.Secret != "").
		Msg("grant request state")
}
