package flow

import (
	"context"
	"net/url"
	"time"

	"github.com/chinmina/grantwell/audit"
	"github.com/chinmina/grantwell/credential"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/idtoken"
	"github.com/chinmina/grantwell/outcome"
)

// RefreshToken implements the refresh token grant: a silent exchange of a
// previously issued refresh token for a fresh grant. It also serves as the
// Refresher collaborator for the other flows.
type RefreshToken struct {
	*Service

	validator *idtoken.Validator
}

// NewRefreshToken creates the flow. The validator, when present, is
// attached lazily to identity tokens returned by the exchange.
func NewRefreshToken(svc *Service, validator *idtoken.Validator) *RefreshToken {
	if svc == nil {
		panic("flow: nil service")
	}
	return &RefreshToken{Service: svc, validator: validator}
}

// Acquire obtains a grant using the refresh token cached for the resolved
// credential identity. No cached refresh token is a failure: this flow has
// no interactive fallback.
func (s *RefreshToken) Acquire(ctx context.Context, options grant.Options) outcome.Outcome[*grant.Grant] {
	authCtx := s.NewAuthContext(GrantTypeRefreshToken, options)

	ctx, entry := audit.Context(ctx)
	entry.Begin(GrantTypeRefreshToken, authCtx.ClientID)
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

func (s *RefreshToken) acquire(ctx context.Context, authCtx AuthContext) outcome.Outcome[*grant.Grant] {
	if cached, ok := s.CachedGrant(ctx, authCtx); ok {
		audit.Log(ctx).CacheHit = true
		return outcome.OK(cached)
	}

	creds, err := s.AppCredentials(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	token, found := s.CachedRefreshToken(ctx, creds.Identity)
	if !found {
		return outcome.Failure[*grant.Grant]("no refresh token cached for identity", nil)
	}

	return s.Refresh(ctx, authCtx, token)
}

// Refresh exchanges the given refresh token for a fresh grant. On success
// the grant is cached for the context and a rotated refresh token, when
// issued, replaces the cached one. Implements Refresher.
func (s *RefreshToken) Refresh(ctx context.Context, authCtx AuthContext, refreshToken string) outcome.Outcome[*grant.Grant] {
	creds, err := s.AppCredentials(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	endpoint, err := s.resolveTokenEndpoint(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	client, err := s.clients.HTTPClient(ctx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	form := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {refreshToken},
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
	if err := postForm(ctx, client, endpoint, form, basic, resp); err != nil {
		s.dumpState(ctx, authCtx, creds)
		return outcome.Failure[*grant.Grant]("refresh token exchange failed", err)
	}

	g, err := buildGrant(resp, time.Now(), s.idTokenValidation(resp.IDToken))
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	s.CacheGrant(ctx, authCtx, g)
	if rotated := g.RefreshToken(); rotated != "" {
		s.CacheRefreshToken(ctx, creds.Identity, rotated)
	}

	return outcome.OK(g)
}

// idTokenValidation builds the deferred validation thunk for an identity
// token returned by the exchange.
func (s *RefreshToken) idTokenValidation(rawToken string) grant.IDTokenValidation {
	if s.validator == nil || rawToken == "" {
		return nil
	}
	return func(ctx context.Context) (map[string]any, error) {
		return s.validator.Validate(ctx, rawToken)
	}
}
