package flow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/chinmina/grantwell/audit"
	"github.com/chinmina/grantwell/credential"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/idtoken"
	"github.com/chinmina/grantwell/loopback"
	"github.com/chinmina/grantwell/outcome"
)

// interactiveTimeout bounds how long the flow waits for the user to
// complete sign-in in the browser.
const interactiveTimeout = 5 * time.Minute

// AuthorizationCode implements the authorization code grant with PKCE. The
// interactive leg is delegated to a loopback browser collaborator; this
// flow builds the authorization URL, verifies the returned state and
// exchanges the code for tokens.
type AuthorizationCode struct {
	*Service

	browser   loopback.Browser
	validator *idtoken.Validator
}

// NewAuthorizationCode creates the flow. The browser performs the
// interactive leg; the validator, when present, is attached lazily to
// received identity tokens.
func NewAuthorizationCode(svc *Service, browser loopback.Browser, validator *idtoken.Validator) *AuthorizationCode {
	if svc == nil {
		panic("flow: nil service")
	}
	if browser == nil {
		panic("flow: nil loopback browser")
	}
	return &AuthorizationCode{Service: svc, browser: browser, validator: validator}
}

// Acquire obtains a grant interactively. Resolution order: cached grant,
// silent refresh, then the browser-based exchange. Silent requests fail
// rather than opening a browser.
func (s *AuthorizationCode) Acquire(ctx context.Context, options grant.Options) outcome.Outcome[*grant.Grant] {
	authCtx := s.NewAuthContext(GrantTypeAuthorizationCode, options)

	ctx, entry := audit.Context(ctx)
	entry.Begin(GrantTypeAuthorizationCode, authCtx.ClientID)
	entry.ActorID = authCtx.Options.ActorID
	entry.Scope = authCtx.Scope
	defer entry.End(ctx)()

	result := s.acquire(ctx, authCtx)

	entry.Succeeded = result.Succeeded()
	if result.Succeeded() {
		if expires := result.Value().Expires(); !expires.IsZero() {
			entry.ExpirySecs = expires.Unix()
		}
	} else {
		entry.Error = result.Message()
	}

	return result
}

func (s *AuthorizationCode) acquire(ctx context.Context, authCtx AuthContext) outcome.Outcome[*grant.Grant] {
	if cached, ok := s.CachedGrant(ctx, authCtx); ok {
		audit.Log(ctx).CacheHit = true
		return outcome.OK(cached)
	}

	creds, err := s.AppCredentials(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	if refreshed, ok := s.TryRefresh(ctx, authCtx, creds.Identity); ok {
		audit.Log(ctx).Refreshed = true
		return outcome.OK(refreshed)
	}

	if authCtx.Options.Silent {
		return outcome.Failure[*grant.Grant]("silent acquisition requested but user interaction is required", nil)
	}
	audit.Log(ctx).Interactive = true

	authorizeEndpoint, err := s.resolveAuthorizationEndpoint(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}
	tokenEndpoint, err := s.resolveTokenEndpoint(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	verifier, challenge, err := newPKCE()
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}
	state, err := randomToken()
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	query := url.Values{
		"response_type":         {"code"},
		"client_id":             {creds.Identity},
		"redirect_uri":          {authCtx.RedirectURL},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	if scope := authCtx.ScopeString(); scope != "" {
		query.Set("scope", scope)
	}
	target := authorizeEndpoint + "?" + query.Encode()

	redirect, err := s.browser.GetLoopback(ctx, target, authCtx.RedirectURL, nil, interactiveTimeout)
	if err != nil {
		return outcome.Failure[*grant.Grant]("interactive authorization failed", err)
	}

	if errCode := redirect.Query.Get("error"); errCode != "" {
		desc := redirect.Query.Get("error_description")
		return outcome.Failure[*grant.Grant](
			fmt.Sprintf("authorization refused: %s (%s)", errCode, desc), nil)
	}
	if redirect.Query.Get("state") != state {
		return outcome.Failure[*grant.Grant]("authorization response state mismatch", nil)
	}
	code := redirect.Query.Get("code")
	if code == "" {
		return outcome.Failure[*grant.Grant]("authorization response carries no code", nil)
	}

	client, err := s.clients.HTTPClient(ctx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	form := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {redirect.RedirectURI},
		"code_verifier": {verifier},
		"client_id":     {creds.Identity},
	}

	var basic *credential.BasicAuthCredentials
	if creds.Secret != "" {
		b, err := s.ValidateBasicAuthCredentials(creds)
		if err != nil {
			return outcome.Failure[*grant.Grant]("", err)
		}
		basic = &b
	}

	resp := &tokenResponse{}
	if err := postForm(ctx, client, tokenEndpoint, form, basic, resp); err != nil {
		s.dumpState(ctx, authCtx, creds)
		return outcome.Failure[*grant.Grant]("authorization code exchange failed", err)
	}

	g, err := buildGrant(resp, time.Now(), s.idTokenValidation(resp.IDToken))
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	s.CacheGrant(ctx, authCtx, g)
	s.CacheRefreshToken(ctx, creds.Identity, g.RefreshToken())

	return outcome.OK(g)
}

// idTokenValidation builds the deferred validation thunk for an identity
// token. Validation only runs when the caller asks for the claims, so
// unused identity tokens never trigger a discovery/JWKS round-trip.
func (s *AuthorizationCode) idTokenValidation(rawToken string) grant.IDTokenValidation {
	if s.validator == nil || rawToken == "" {
		return nil
	}
	return func(ctx context.Context) (map[string]any, error) {
		return s.validator.Validate(ctx, rawToken)
	}
}

// newPKCE generates a PKCE verifier and its S256 challenge.
func newPKCE() (verifier, challenge string, err error) {
	verifier, err = randomToken()
	if err != nil {
		return "", "", err
	}

	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// randomToken returns 32 bytes of URL-safe randomness.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
