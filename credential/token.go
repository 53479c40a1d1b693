package credential

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

// ActorToken is a security token representing the authenticated party. The
// token is treated as opaque text; JWT-formatted tokens are recognized
// lazily on first inspection.
type ActorToken struct {
	value string

	jwtOnce sync.Once
	isJWT   bool
}

// NewActorToken wraps a raw token value.
func NewActorToken(value string) (*ActorToken, error) {
	if value == "" {
		return nil, fmt.Errorf("actor token value is empty")
	}
	return &ActorToken{value: value}, nil
}

// Value returns the raw token text.
func (t *ActorToken) Value() string {
	return t.value
}

// String returns the raw token text.
func (t *ActorToken) String() string {
	return t.value
}

// IsJWT lazily attempts a JWT decode (no signature verification) and caches
// the result, so repeated checks never re-parse.
func (t *ActorToken) IsJWT() bool {
	t.jwtOnce.Do(func() {
		parser := jwt.NewParser()
		_, _, err := parser.ParseUnverified(t.value, jwt.MapClaims{})
		t.isJWT = err == nil
	})
	return t.isJWT
}

// bearerPrefix is the fixed textual prefix of a bearer token.
const bearerPrefix = "Bearer "

// BearerToken is an ActorToken carrying the standard "Bearer " prefix in
// its textual form, suitable for Authorization headers.
type BearerToken struct {
	ActorToken
}

// NewBearerToken wraps a raw token value (without prefix).
func NewBearerToken(value string) (*BearerToken, error) {
	if value == "" {
		return nil, fmt.Errorf("bearer token value is empty")
	}
	return &BearerToken{ActorToken{value: value}}, nil
}

// ParseBearer parses the prefixed textual form produced by String.
func ParseBearer(s string) (*BearerToken, error) {
	value, found := strings.CutPrefix(s, bearerPrefix)
	if !found {
		return nil, fmt.Errorf("malformed bearer token: missing %q prefix", bearerPrefix)
	}
	if value == "" {
		return nil, fmt.Errorf("malformed bearer token: empty value")
	}
	return &BearerToken{ActorToken{value: value}}, nil
}

// TryParseBearer is the non-erroring form of ParseBearer.
func TryParseBearer(s string) (*BearerToken, bool) {
	t, err := ParseBearer(s)
	return t, err == nil
}

// String returns the prefixed textual form. Round-trips through ParseBearer.
func (t *BearerToken) String() string {
	return bearerPrefix + t.value
}
