package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// IssuerNameValidator decides whether the issuer named by a discovery
// document may be trusted for the endpoint it was fetched from. The default
// is exact matching; deployments with issuer aliasing can substitute their
// own strategy.
type IssuerNameValidator interface {
	ValidateIssuerName(documentIssuer, expectedIssuer string) error
}

// ExactMatchIssuerValidator requires the document issuer to equal the
// expected issuer, ignoring a single trailing slash.
type ExactMatchIssuerValidator struct{}

func (ExactMatchIssuerValidator) ValidateIssuerName(documentIssuer, expectedIssuer string) error {
	if strings.TrimSuffix(documentIssuer, "/") != strings.TrimSuffix(expectedIssuer, "/") {
		return fmt.Errorf("issuer mismatch: document declares %q, expected %q", documentIssuer, expectedIssuer)
	}
	return nil
}

// Policy governs auxiliary checks on the discovery endpoint before its
// document is trusted.
type Policy struct {
	// RequireHTTPS rejects plain-http discovery endpoints. Loopback hosts
	// are exempt so local test issuers keep working.
	RequireHTTPS bool

	// IssuerValidation checks the document's issuer against the endpoint it
	// was fetched from. Nil defaults to exact matching.
	IssuerValidation IssuerNameValidator
}

// DefaultPolicy enforces HTTPS and exact issuer matching.
func DefaultPolicy() Policy {
	return Policy{
		RequireHTTPS:     true,
		IssuerValidation: ExactMatchIssuerValidator{},
	}
}

// CheckEndpoint validates the discovery endpoint URL against the policy.
func (p Policy) CheckEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("malformed discovery endpoint %q: %w", endpoint, err)
	}

	if p.RequireHTTPS && u.Scheme != "https" && !isLoopbackHost(u.Hostname()) {
		return fmt.Errorf("discovery endpoint %q is not HTTPS", endpoint)
	}

	return nil
}

// CheckDocument validates a downloaded document against the endpoint it
// came from.
func (p Policy) CheckDocument(doc *Document, endpoint string) error {
	expectedIssuer := strings.TrimSuffix(endpoint, WellKnownPath)

	validator := p.IssuerValidation
	if validator == nil {
		validator = ExactMatchIssuerValidator{}
	}

	if err := validator.ValidateIssuerName(doc.Issuer, expectedIssuer); err != nil {
		return fmt.Errorf("discovery document rejected: %w", err)
	}

	return nil
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
