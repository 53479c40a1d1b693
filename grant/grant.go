// Package grant models the result of a successful token exchange: the
// issued tokens, their roles and lifetimes, and the per-request acquisition
// policy.
package grant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role classifies a token within a grant.
type Role string

const (
	RoleAccessToken  Role = "accessToken"
	RoleRefreshToken Role = "refreshToken"
	RoleIDToken      Role = "idToken"
)

// IDTokenValidation is a deferred identity-token validation. It is attached
// to an id token by the flow that obtained it and runs the full
// discovery/JWKS validation only when the caller actually needs the claims.
type IDTokenValidation func(ctx context.Context) (map[string]any, error)

// TokenInfo is one token issued within a grant.
type TokenInfo struct {
	Role    Role       `json:"role"`
	Token   string     `json:"token"`
	Expires *time.Time `json:"expires,omitempty"`

	validate     IDTokenValidation
	validateOnce sync.Once
	claims       map[string]any
	validateErr  error
}

// NewTokenInfo creates a token entry with an optional expiry.
func NewTokenInfo(role Role, token string, expires *time.Time) *TokenInfo {
	return &TokenInfo{Role: role, Token: token, Expires: expires}
}

// NewIDTokenInfo creates an id-token entry carrying a lazy validation. The
// validation runs at most once; its result is cached for subsequent calls.
func NewIDTokenInfo(token string, validate IDTokenValidation) *TokenInfo {
	return &TokenInfo{Role: RoleIDToken, Token: token, validate: validate}
}

// ValidateIDToken runs the attached validation, returning the validated
// claims. Repeated calls return the cached result. Tokens without a
// validation (including grants restored from cache) fail: the caller is
// expected to re-validate through its own validator in that case.
func (t *TokenInfo) ValidateIDToken(ctx context.Context) (map[string]any, error) {
	if t.Role != RoleIDToken {
		return nil, fmt.Errorf("token role %q is not an id token", t.Role)
	}
	if t.validate == nil {
		return nil, fmt.Errorf("no validation attached to id token")
	}

	t.validateOnce.Do(func() {
		t.claims, t.validateErr = t.validate(ctx)
	})

	return t.claims, t.validateErr
}

// Grant is the aggregate result of a successful token exchange: an ordered
// collection of tokens, the granted scope, and the expiry derived from the
// access token.
type Grant struct {
	Tokens []*TokenInfo `json:"tokens"`
	Scope  string       `json:"scope,omitempty"`
}

// New assembles a grant from its tokens.
func New(scope string, tokens ...*TokenInfo) *Grant {
	return &Grant{Tokens: tokens, Scope: scope}
}

// Token returns the first token with the given role.
func (g *Grant) Token(role Role) (*TokenInfo, bool) {
	for _, t := range g.Tokens {
		if t.Role == role {
			return t, true
		}
	}
	return nil, false
}

// AccessToken returns the grant's access token value, empty if absent.
func (g *Grant) AccessToken() string {
	if t, ok := g.Token(RoleAccessToken); ok {
		return t.Token
	}
	return ""
}

// RefreshToken returns the grant's refresh token value, empty if absent.
func (g *Grant) RefreshToken() string {
	if t, ok := g.Token(RoleRefreshToken); ok {
		return t.Token
	}
	return ""
}

// IDToken returns the grant's identity token, if any.
func (g *Grant) IDToken() (*TokenInfo, bool) {
	return g.Token(RoleIDToken)
}

// Expires returns the access token's expiry. The zero time means the grant
// carries no expiry information.
func (g *Grant) Expires() time.Time {
	t, ok := g.Token(RoleAccessToken)
	if !ok || t.Expires == nil {
		return time.Time{}
	}
	return *t.Expires
}

// IsExpired reports whether the grant's access token has expired at the
// given instant. Grants without expiry information never self-expire.
func (g *Grant) IsExpired(now time.Time) bool {
	expires := g.Expires()
	if expires.IsZero() {
		return false
	}
	return now.After(expires)
}

// WithRemainingLifespan clones the grant with the access token expiry
// rebased to now+remaining. Used when reading a grant back from cache: the
// remaining lifespan is recomputed from the cache entry's spawn time rather
// than trusting the stored expiry verbatim.
func (g *Grant) WithRemainingLifespan(now time.Time, remaining time.Duration) *Grant {
	clone := &Grant{
		Tokens: make([]*TokenInfo, len(g.Tokens)),
		Scope:  g.Scope,
	}

	expires := now.Add(remaining)
	for i, t := range g.Tokens {
		c := &TokenInfo{Role: t.Role, Token: t.Token, Expires: t.Expires, validate: t.validate}
		if t.Role == RoleAccessToken {
			c.Expires = &expires
		}
		clone.Tokens[i] = c
	}

	return clone
}

// String renders the grant for logs, with token values redacted.
func (g *Grant) String() string {
	var sb strings.Builder
	sb.WriteString("grant[")
	for i, t := range g.Tokens {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(string(t.Role))
	}
	sb.WriteString("]")
	if g.Scope != "" {
		sb.WriteString(" scope=")
		sb.WriteString(g.Scope)
	}
	return sb.String()
}
