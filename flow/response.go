package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chinmina/grantwell/credential"
	"github.com/chinmina/grantwell/grant"
)

// durationSeconds decodes the "expires_in"/"interval" wire fields, which
// issuers serve as a JSON number or as a quoted string of seconds.
type durationSeconds int64

func (d *durationSeconds) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	// some issuers serve fractional seconds
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("malformed seconds value %q: %w", s, err)
	}

	*d = durationSeconds(f)
	return nil
}

// Duration converts the decoded seconds to a duration.
func (d durationSeconds) Duration() time.Duration {
	return time.Duration(d) * time.Second
}

// tokenResponse is the JSON body of a successful token endpoint exchange.
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    durationSeconds `json:"expires_in"`
	RefreshToken string          `json:"refresh_token"`
	IDToken      string          `json:"id_token"`
	Scope        string          `json:"scope"`
}

// protocolError is the RFC 6749 error body served with non-2xx token
// endpoint responses.
type protocolError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`

	status int
}

func (e *protocolError) Error() string {
	msg := fmt.Sprintf("authorization server answered %d", e.status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

// postForm performs a form-encoded POST to the endpoint. A 2xx response is
// decoded into out; a non-2xx response returns a *protocolError carrying
// the status and, when the body is an RFC 6749 error document, the error
// code and description. Transport failures are returned unwrapped so
// cancellation remains detectable with errors.Is.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, creds *credential.BasicAuthCredentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if creds != nil {
		req.Header.Set("Authorization", creds.HeaderValue())
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &protocolError{status: resp.StatusCode}
		// the error body is advisory; the status code alone is a valid
		// protocol error
		_ = json.Unmarshal(body, perr)
		return perr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed token response: %w", err)
	}

	return nil
}

// buildGrant assembles a grant from a token response. The id token, when
// present, carries the supplied lazy validation.
func buildGrant(resp *tokenResponse, now time.Time, validate grant.IDTokenValidation) (*grant.Grant, error) {
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response carries no access token")
	}

	var expires *time.Time
	if resp.ExpiresIn > 0 {
		e := now.Add(resp.ExpiresIn.Duration())
		expires = &e
	}

	tokens := []*grant.TokenInfo{
		grant.NewTokenInfo(grant.RoleAccessToken, resp.AccessToken, expires),
	}
	if resp.RefreshToken != "" {
		tokens = append(tokens, grant.NewTokenInfo(grant.RoleRefreshToken, resp.RefreshToken, nil))
	}
	if resp.IDToken != "" {
		tokens = append(tokens, grant.NewIDTokenInfo(resp.IDToken, validate))
	}

	return grant.New(resp.Scope, tokens...), nil
}
