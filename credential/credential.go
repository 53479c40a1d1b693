// Package credential holds the client credential and security token model
// shared by all grant flows.
package credential

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Credentials is an identity/secret pair. NewSecret optionally carries a
// rotation candidate: a secret the client intends to switch to once the
// authorization server acknowledges it.
type Credentials struct {
	Identity  string
	Secret    string
	NewSecret string
}

// IsComplete reports whether both identity and secret are present.
func (c Credentials) IsComplete() bool {
	return c.Identity != "" && c.Secret != ""
}

// rotationSeparator marks an embedded secret-rotation candidate in the
// textual credential form: "identity:secret ; newSecret".
const rotationSeparator = " ; "

// BasicAuthCredentials is a credentials specialization that can produce an
// HTTP Basic authorization header value.
type BasicAuthCredentials struct {
	Credentials
}

// NewBasicAuth builds basic-auth credentials from an identity and secret.
func NewBasicAuth(identity, secret string) BasicAuthCredentials {
	return BasicAuthCredentials{Credentials{Identity: identity, Secret: secret}}
}

// FromCredentials normalizes arbitrary credentials to the basic-auth form.
func FromCredentials(c Credentials) BasicAuthCredentials {
	return BasicAuthCredentials{c}
}

// ParseBasicAuth parses the textual credential form "identity:secret",
// optionally carrying a rotation candidate: "identity:secret ; newSecret".
// The identity must not contain a colon; the secret may.
func ParseBasicAuth(s string) (BasicAuthCredentials, error) {
	var newSecret string
	if body, candidate, found := strings.Cut(s, rotationSeparator); found {
		s = body
		newSecret = strings.TrimSpace(candidate)
	}

	identity, secret, found := strings.Cut(s, ":")
	if !found {
		return BasicAuthCredentials{}, fmt.Errorf("malformed basic auth credentials: missing ':' separator")
	}
	if identity == "" {
		return BasicAuthCredentials{}, fmt.Errorf("malformed basic auth credentials: empty identity")
	}

	return BasicAuthCredentials{Credentials{
		Identity:  identity,
		Secret:    secret,
		NewSecret: newSecret,
	}}, nil
}

// String returns the parseable textual form, including the rotation
// candidate when present. Round-trips through ParseBasicAuth.
func (c BasicAuthCredentials) String() string {
	s := c.Identity + ":" + c.Secret
	if c.NewSecret != "" {
		s += rotationSeparator + c.NewSecret
	}
	return s
}

// Encode returns the base64 payload of an HTTP Basic authorization header.
func (c BasicAuthCredentials) Encode() string {
	return base64.StdEncoding.EncodeToString([]byte(c.Identity + ":" + c.Secret))
}

// HeaderValue returns the complete Authorization header value.
func (c BasicAuthCredentials) HeaderValue() string {
	return "Basic " + c.Encode()
}
