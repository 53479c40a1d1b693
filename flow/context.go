package flow

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/chinmina/grantwell/config"
	"github.com/chinmina/grantwell/grant"
)

// Grant type identifiers used on the wire and as cache repository names.
const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeAuthorizationCode = "authorization_code"
)

// AuthContext is the merged configuration and per-request options for one
// grant acquisition. It is resolved once at the start of the request and
// not mutated afterwards.
type AuthContext struct {
	GrantType string

	AuthorityURL     string
	TokenURL         string
	DeviceAuthURL    string
	AuthorizationURL string
	DiscoveryURL     string
	RedirectURL      string

	ClientID     string
	ClientSecret string
	Scope        []string

	Options grant.Options
}

// NewAuthContext resolves an auth context from configuration and options.
// The scope in the options overrides the configured scope; endpoint and
// client values resolve through the configuration resolver chain. Force in
// the options disables cache reads and refresh for the request.
func NewAuthContext(cfg config.Config, grantType string, options grant.Options) AuthContext {
	options = options.Effective()

	resolver := config.Chain(
		cfg.Client.ClientResolver(),
		cfg.Authority.AuthorityResolver(),
	)

	scope := options.Scope
	if len(scope) == 0 {
		scope = cfg.Client.ScopeList()
	}

	clientID, _ := resolver.StringValue(config.KeyClientID)
	clientSecret, _ := resolver.StringValue(config.KeyClientSecret)
	tokenURL, _ := resolver.StringValue(config.KeyTokenURL)
	authorityURL, _ := resolver.StringValue(config.KeyAuthorityURL)
	deviceAuthURL, _ := resolver.StringValue(config.KeyDeviceAuthURL)

	return AuthContext{
		GrantType:        grantType,
		AuthorityURL:     authorityURL,
		TokenURL:         tokenURL,
		DeviceAuthURL:    deviceAuthURL,
		AuthorizationURL: cfg.Authority.AuthorizationURL,
		DiscoveryURL:     cfg.Authority.DiscoveryURL,
		RedirectURL:      cfg.Authority.RedirectURL,
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		Scope:            scope,
		Options:          options,
	}
}

// CacheRepository is the token-cache repository grants for this context
// are stored under.
func (a AuthContext) CacheRepository() string {
	return a.GrantType
}

// CacheKey is the token-cache key for this context: the actor when one is
// named, otherwise the client identity.
func (a AuthContext) CacheKey() string {
	if a.Options.ActorID != "" {
		return a.Options.ActorID
	}
	return a.ClientID
}

// ScopeString renders the requested scope as the space-separated wire
// form, empty when no scope is requested.
func (a AuthContext) ScopeString() string {
	return strings.Join(a.Scope, " ")
}

// MarshalZerologObject renders the context for debug state dumps with the
// client secret redacted.
func (a AuthContext) MarshalZerologObject(e *zerolog.Event) {
	e.Str("grantType", a.GrantType).
		Str("authorityURL", a.AuthorityURL).
		Str("tokenURL", a.TokenURL).
		Str("deviceAuthURL", a.DeviceAuthURL).
		Str("clientID", a.ClientID).
		Bool("clientSecretSet", a.ClientSecret != "").
		Strs("scope", a.Scope).
		Bool("cachingAllowed", a.Options.CachingAllowed).
		Bool("refreshAllowed", a.Options.RefreshAllowed).
		Bool("force", a.Options.Force).
		Bool("silent", a.Options.Silent)
}
