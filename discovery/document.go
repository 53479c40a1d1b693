// Package discovery resolves and caches OIDC discovery metadata, degrading
// to previously cached documents when the network is unavailable.
package discovery

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// WellKnownPath is the standard location of OIDC metadata under an issuer.
const WellKnownPath = "/.well-known/openid-configuration"

// Document is the OIDC metadata served by an authorization server, plus the
// local timestamp of when it was obtained. The timestamp drives staleness
// resolution: a document only ever replaces another with an older
// LastUpdated.
type Document struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint"`
	DeviceAuthorizationEndpoint      string   `json:"device_authorization_endpoint,omitempty"`
	JwksURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// IsNewerThan reports whether this document supersedes other. A nil other is
// always superseded.
func (d *Document) IsNewerThan(other *Document) bool {
	if other == nil {
		return true
	}
	return d.LastUpdated.After(other.LastUpdated)
}

// ResolveEndpointURL resolves the discovery endpoint from caller input: a
// URL (the well-known path is appended when absent) or a JWT from which the
// issuer is derived.
func ResolveEndpointURL(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("no discovery endpoint input provided")
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return wellKnownURL(input)
	}

	issuer, err := issuerFromToken(input)
	if err != nil {
		return "", err
	}
	return wellKnownURL(issuer)
}

// wellKnownURL appends the well-known path to a base URL unless already
// present.
func wellKnownURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("malformed discovery URL %q: %w", base, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("discovery URL must be absolute: %q", base)
	}

	if strings.HasSuffix(u.Path, WellKnownPath) {
		return u.String(), nil
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + WellKnownPath
	return u.String(), nil
}

// issuerFromToken extracts the issuer claim from a JWT without verifying
// its signature. The issuer is only used to locate the discovery endpoint;
// the document itself is then subject to policy validation.
func issuerFromToken(raw string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(raw, &claims)
	if err != nil {
		return "", fmt.Errorf("input is neither a URL nor a decodable JWT: %w", err)
	}

	if claims.Issuer == "" {
		return "", fmt.Errorf("token carries no issuer claim")
	}
	return claims.Issuer, nil
}
