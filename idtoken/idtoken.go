// Package idtoken validates OIDC identity tokens against the issuer's
// published signing keys and metadata.
package idtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v4"

	"github.com/chinmina/grantwell/discovery"
)

const jwksCacheTTL = 5 * time.Minute

// Options switches individual validation aspects on or off. Switching a
// check off is intended for local development against test issuers, not
// production use.
type Options struct {
	ValidateLifetime  bool
	ValidateIssuer    bool
	ValidateAudience  bool
	ValidateSignature bool

	// ClockSkew is tolerated on lifetime checks.
	ClockSkew time.Duration
}

// DefaultOptions enables every check with a small clock skew allowance.
func DefaultOptions() Options {
	return Options{
		ValidateLifetime:  true,
		ValidateIssuer:    true,
		ValidateAudience:  true,
		ValidateSignature: true,
		ClockSkew:         5 * time.Second,
	}
}

// Validator checks identity tokens using the discovery document for the
// issuer's signing keys, expected issuer name and permitted algorithms.
// Validation failures are reported as a single aggregated error.
type Validator struct {
	discovery *discovery.Cache
	client    discovery.HTTPDoer
	audience  string
	options   Options

	mu          sync.Mutex
	jwks        *jose.JSONWebKeySet
	jwksFetched time.Time
}

// NewValidator creates a validator. A non-empty audience is the client ID
// the token must be addressed to; when empty, the expected audience is
// taken from the token's own aud claim, so only its presence is enforced.
// A nil discovery cache or client panics.
func NewValidator(dc *discovery.Cache, client discovery.HTTPDoer, audience string, options Options) *Validator {
	if dc == nil {
		panic("idtoken: nil discovery cache")
	}
	if client == nil {
		panic("idtoken: nil HTTP client")
	}
	return &Validator{
		discovery: dc,
		client:    client,
		audience:  audience,
		options:   options,
	}
}

// Validate checks the token and returns its claims. All applicable failures
// are collected and returned together so a caller sees every defect at
// once.
func (v *Validator) Validate(ctx context.Context, rawToken string) (map[string]any, error) {
	doc, err := v.discovery.TryDownloadAndSetCurrent(ctx, rawToken, false)
	if err != nil {
		return nil, fmt.Errorf("identity token validation: %w", err)
	}

	claims := jwt.MapClaims{}
	if v.options.ValidateSignature {
		claims, err = v.parseVerified(ctx, rawToken, doc)
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(rawToken, claims)
	}
	if err != nil {
		return nil, fmt.Errorf("identity token validation: %w", err)
	}

	if err := v.checkClaims(claims, doc); err != nil {
		return nil, fmt.Errorf("identity token validation: %w", err)
	}

	return claims, nil
}

// parseVerified parses the token, checking the signature against the
// issuer's JWKS and restricting algorithms to those the issuer declares.
func (v *Validator) parseVerified(ctx context.Context, rawToken string, doc *discovery.Document) (jwt.MapClaims, error) {
	keySet, err := v.keySet(ctx, doc)
	if err != nil {
		return nil, err
	}

	algorithms := doc.IDTokenSigningAlgValuesSupported
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(algorithms),
		// claims are checked separately so individual aspects can be
		// switched off and failures aggregated
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header carries no key ID")
		}

		matches := keySet.Key(kid)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no key %q in issuer JWKS", kid)
		}
		return matches[0].Key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	return claims, nil
}

// checkClaims applies the enabled claim checks, collecting every failure.
func (v *Validator) checkClaims(claims jwt.MapClaims, doc *discovery.Document) error {
	var failures []error

	if v.options.ValidateLifetime {
		now := time.Now()
		if !claims.VerifyExpiresAt(now.Add(-v.options.ClockSkew).Unix(), true) {
			failures = append(failures, errors.New("token is expired or carries no expiry"))
		}
		if !claims.VerifyNotBefore(now.Add(v.options.ClockSkew).Unix(), false) {
			failures = append(failures, errors.New("token is not yet valid"))
		}
	}

	if v.options.ValidateIssuer && !claims.VerifyIssuer(doc.Issuer, true) {
		failures = append(failures, fmt.Errorf("token issuer does not match %q", doc.Issuer))
	}

	if v.options.ValidateAudience {
		// with no configured audience the expected value comes from the
		// token itself, so the check requires only that an audience is
		// present
		expected := v.audience
		if expected == "" {
			expected = tokenAudience(claims)
		}
		if expected == "" || !claims.VerifyAudience(expected, true) {
			if v.audience != "" {
				failures = append(failures, fmt.Errorf("token audience does not include %q", v.audience))
			} else {
				failures = append(failures, errors.New("token carries no audience"))
			}
		}
	}

	return errors.Join(failures...)
}

// tokenAudience extracts the first audience named by the claims, or ""
// when the token carries none.
func tokenAudience(claims jwt.MapClaims) string {
	switch aud := claims["aud"].(type) {
	case string:
		return aud
	case []string:
		if len(aud) > 0 {
			return aud[0]
		}
	case []any:
		for _, v := range aud {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// keySet returns the issuer's JWKS, refetching after the cache TTL.
func (v *Validator) keySet(ctx context.Context, doc *discovery.Document) (*jose.JSONWebKeySet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil && time.Since(v.jwksFetched) < jwksCacheTTL {
		return v.jwks, nil
	}

	if doc.JwksURI == "" {
		return nil, fmt.Errorf("discovery document declares no JWKS URI")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.JwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("JWKS endpoint answered %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}

	keySet := &jose.JSONWebKeySet{}
	if err := json.Unmarshal(body, keySet); err != nil {
		return nil, fmt.Errorf("malformed JWKS document: %w", err)
	}

	v.jwks = keySet
	v.jwksFetched = time.Now()

	return keySet, nil
}
