package flow

import (
	"context"
	"net/url"
	"time"

	"github.com/chinmina/grantwell/audit"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/outcome"
)

// ClientCredentials implements the client credentials grant: a state-free
// exchange of the application's own credentials for an access token.
type ClientCredentials struct {
	*Service
}

// NewClientCredentials creates the flow over the shared service base.
func NewClientCredentials(svc *Service) *ClientCredentials {
	if svc == nil {
		panic("flow: nil service")
	}
	return &ClientCredentials{Service: svc}
}

// Acquire obtains a grant for the application itself. Resolution order:
// cached grant, silent refresh, then the network exchange. A fresh grant is
// cached keyed by the client identity.
func (s *ClientCredentials) Acquire(ctx context.Context, options grant.Options) outcome.Outcome[*grant.Grant] {
	authCtx := s.NewAuthContext(GrantTypeClientCredentials, options)

	ctx, entry := audit.Context(ctx)
	entry.Begin(GrantTypeClientCredentials, authCtx.ClientID)
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

func (s *ClientCredentials) acquire(ctx context.Context, authCtx AuthContext) outcome.Outcome[*grant.Grant] {
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

	basic, err := s.ValidateBasicAuthCredentials(creds)
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

	form := url.Values{"grant_type": {GrantTypeClientCredentials}}
	if scope := authCtx.ScopeString(); scope != "" {
		form.Set("scope", scope)
	}

	resp := &tokenResponse{}
	if err := postForm(ctx, client, endpoint, form, &basic, resp); err != nil {
		s.dumpState(ctx, authCtx, creds)
		return outcome.Failure[*grant.Grant]("client credentials exchange failed", err)
	}

	g, err := buildGrant(resp, time.Now(), nil)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	s.CacheGrant(ctx, authCtx, g)
	s.CacheRefreshToken(ctx, creds.Identity, g.RefreshToken())

	return outcome.OK(g)
}
