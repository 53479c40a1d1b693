package flow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/chinmina/grantwell/audit"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/outcome"
)

// Distinguishable device flow failures, surfaced so a host application can
// react differently: a new code can be requested after expiry, while a
// denial is final.
var (
	ErrDeviceAuthExpired = errors.New("device authorization expired before approval")
	ErrDeviceAuthDenied  = errors.New("device authorization denied")
)

// defaultPollInterval applies when the issuer omits the poll interval.
const defaultPollInterval = 5 * time.Second

// slowDownIncrement is the mandatory interval increase on a slow_down
// response (RFC 8628).
const slowDownIncrement = 5 * time.Second

// DeviceAuthorization is the issuer's response to a device authorization
// request: what the user must do, and how the device polls for the result.
type DeviceAuthorization struct {
	DeviceCode              string          `json:"device_code"`
	UserCode                string          `json:"user_code"`
	VerificationURI         string          `json:"verification_uri"`
	VerificationURIComplete string          `json:"verification_uri_complete"`
	ExpiresIn               durationSeconds `json:"expires_in"`
	Interval                durationSeconds `json:"interval"`
}

// UserPrompt presents the verification URI and user code to the user. It is
// invoked once, after the device authorization is obtained and before
// polling starts. An error aborts the flow.
type UserPrompt func(ctx context.Context, auth DeviceAuthorization) error

// DeviceCode implements the device authorization grant (RFC 8628): obtain a
// user code, have the host application display it, and poll the token
// endpoint until the user approves, denies, or the code expires.
type DeviceCode struct {
	*Service
}

// NewDeviceCode creates the flow over the shared service base.
func NewDeviceCode(svc *Service) *DeviceCode {
	if svc == nil {
		panic("flow: nil service")
	}
	return &DeviceCode{Service: svc}
}

// Acquire obtains a grant via device authorization. Resolution order:
// cached grant, silent refresh, then the interactive device exchange. The
// poll loop honors the issuer's interval (default 5s), backs off on
// slow_down, and stops when the device code expires. Cancellation via ctx
// interrupts the poll immediately.
func (s *DeviceCode) Acquire(ctx context.Context, options grant.Options, prompt UserPrompt) outcome.Outcome[*grant.Grant] {
	authCtx := s.NewAuthContext(GrantTypeDeviceCode, options)

	ctx, entry := audit.Context(ctx)
	entry.Begin(GrantTypeDeviceCode, authCtx.ClientID)
	entry.ActorID = authCtx.Options.ActorID
	entry.Scope = authCtx.Scope
	defer entry.End(ctx)()

	result := s.acquire(ctx, authCtx, prompt)

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

func (s *DeviceCode) acquire(ctx context.Context, authCtx AuthContext, prompt UserPrompt) outcome.Outcome[*grant.Grant] {
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

	deviceEndpoint, err := s.resolveDeviceAuthEndpoint(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}
	tokenEndpoint, err := s.resolveTokenEndpoint(ctx, authCtx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	client, err := s.clients.HTTPClient(ctx)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	form := url.Values{"client_id": {creds.Identity}}
	if scope := authCtx.ScopeString(); scope != "" {
		form.Set("scope", scope)
	}

	auth := DeviceAuthorization{}
	if err := postForm(ctx, client, deviceEndpoint, form, nil, &auth); err != nil {
		s.dumpState(ctx, authCtx, creds)
		return outcome.Failure[*grant.Grant]("device authorization request failed", err)
	}

	if prompt != nil {
		if err := prompt(ctx, auth); err != nil {
			return outcome.Failure[*grant.Grant]("user prompt aborted the device flow", err)
		}
	}

	resp, err := s.poll(ctx, client, tokenEndpoint, creds.Identity, auth)
	if err != nil {
		return outcome.Failure[*grant.Grant]("device authorization incomplete", err)
	}

	g, err := buildGrant(resp, time.Now(), nil)
	if err != nil {
		return outcome.Failure[*grant.Grant]("", err)
	}

	s.CacheGrant(ctx, authCtx, g)
	s.CacheRefreshToken(ctx, creds.Identity, g.RefreshToken())

	return outcome.OK(g)
}

// poll repeatedly exchanges the device code until the issuer reports a
// terminal result or the code's lifetime elapses.
func (s *DeviceCode) poll(ctx context.Context, client *http.Client, endpoint, clientID string, auth DeviceAuthorization) (*tokenResponse, error) {
	interval := auth.Interval.Duration()
	if interval <= 0 {
		interval = defaultPollInterval
	}

	var deadline <-chan time.Time
	if auth.ExpiresIn > 0 {
		expiry := time.NewTimer(auth.ExpiresIn.Duration())
		defer expiry.Stop()
		deadline = expiry.C
	}

	form := url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {auth.DeviceCode},
		"client_id":   {clientID},
	}

	for {
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-deadline:
			timer.Stop()
			return nil, ErrDeviceAuthExpired
		case <-timer.C:
		}

		resp := &tokenResponse{}
		err := postForm(ctx, client, endpoint, form, nil, resp)
		if err == nil {
			return resp, nil
		}

		perr := &protocolError{}
		if !errors.As(err, &perr) {
			// transport or decode failure: surface as-is so cancellation
			// stays detectable
			return nil, err
		}

		switch perr.Code {
		case "authorization_pending":
			// user has not decided yet
		case "slow_down":
			interval += slowDownIncrement
		case "expired_token":
			return nil, ErrDeviceAuthExpired
		case "access_denied":
			return nil, ErrDeviceAuthDenied
		default:
			return nil, perr
		}
	}
}
