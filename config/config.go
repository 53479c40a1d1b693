// Package config loads and validates the engine configuration from the
// environment.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authority AuthorityConfig
	Client    ClientConfig
	Cache     CacheConfig
	Policy    PolicyConfig
	Observe   ObserveConfig
}

// AuthorityConfig locates the authorization server. TokenURL and
// DeviceAuthURL may be left empty when DiscoveryURL (or AuthorityURL) is
// set; flows resolve them from the discovery document in that case.
type AuthorityConfig struct {
	// AuthorityURL is the base URL of the authorization server (the OIDC
	// issuer). The discovery endpoint is derived from it when DiscoveryURL
	// is not set explicitly.
	AuthorityURL string `env:"AUTH_AUTHORITY_URL"`

	// TokenURL is the token endpoint.
	TokenURL string `env:"AUTH_TOKEN_URL"`

	// DeviceAuthURL is the device authorization endpoint (RFC 8628).
	DeviceAuthURL string `env:"AUTH_DEVICE_AUTH_URL"`

	// AuthorizationURL is the interactive authorization endpoint used by the
	// authorization code flow.
	AuthorizationURL string `env:"AUTH_AUTHORIZATION_URL"`

	// DiscoveryURL is the full well-known OIDC metadata URL.
	DiscoveryURL string `env:"AUTH_DISCOVERY_URL"`

	// RedirectURL is the loopback redirect target for the authorization code
	// flow.
	RedirectURL string `env:"AUTH_REDIRECT_URL, default=http://127.0.0.1:0/callback"`
}

type ClientConfig struct {
	ID     string `env:"AUTH_CLIENT_ID"`
	Secret string `env:"AUTH_CLIENT_SECRET"`
	Scope  string `env:"AUTH_SCOPE"`
}

// PolicyConfig holds grant acquisition policy flags.
type PolicyConfig struct {
	// GrantCaching globally enables the token cache. Per-request options can
	// disable reads, but successful grants are still written when true.
	GrantCaching bool `env:"AUTH_GRANT_CACHING, default=true"`

	// RefreshAllowed enables silent refresh-token exchange before a full
	// grant acquisition is attempted.
	RefreshAllowed bool `env:"AUTH_REFRESH_ALLOWED, default=true"`

	// RequireHTTPS enforces HTTPS on the discovery endpoint. Loopback hosts
	// are exempt so local test issuers keep working.
	RequireHTTPS bool `env:"AUTH_DISCOVERY_REQUIRE_HTTPS, default=true"`
}

// CacheConfig specifies the secure cache backing the token store.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "valkey"
	Type string `env:"CACHE_TYPE, default=memory"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig

	// Encryption holds cache encryption settings.
	// Only supported with valkey cache type.
	Encryption CacheEncryptionConfig
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure
	// option is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"VALKEY_PASSWORD"`
}

// CacheEncryptionConfig holds settings for cache encryption.
type CacheEncryptionConfig struct {
	// Enabled turns on encryption for cached tokens.
	// Requires CACHE_TYPE=valkey.
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"CACHE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`
}

// ObserveConfig controls telemetry bootstrap for binaries embedding the
// engine.
type ObserveConfig struct {
	SDKLogLevel               string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                   bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled            bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                      string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName               string `env:"OBSERVE_SERVICE_NAME, default=grantwell"`
	TraceBatchTimeoutSeconds  int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Authority.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid authority configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that at least one endpoint resolution path exists.
func (c *AuthorityConfig) Validate() error {
	if c.AuthorityURL == "" && c.TokenURL == "" && c.DiscoveryURL == "" {
		return fmt.Errorf("one of AUTH_AUTHORITY_URL, AUTH_TOKEN_URL or AUTH_DISCOVERY_URL is required")
	}
	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	// Encryption requires distributed cache
	if c.Encryption.Enabled && c.Type != "valkey" {
		return fmt.Errorf("cache encryption requires CACHE_TYPE=valkey")
	}

	// Encryption requires keyset and KMS URIs
	if c.Encryption.Enabled {
		if c.Encryption.KeysetURI == "" {
			return fmt.Errorf("CACHE_ENCRYPTION_KEYSET_URI required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return fmt.Errorf("CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	// Valkey requires address
	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
	}

	return nil
}

// ScopeList splits the configured scope into its space-separated parts.
func (c ClientConfig) ScopeList() []string {
	return strings.Fields(c.Scope)
}
