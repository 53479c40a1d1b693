package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// MockAuthServer is a configurable mock OAuth2/OIDC authorization server.
// It serves discovery metadata, a JWKS, a token endpoint and a device
// authorization endpoint, with adjustable responses and request capture.
type MockAuthServer struct {
	Server *httptest.Server

	// token endpoint response values
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    any // int or string; serialized verbatim as expires_in
	Scope        string

	// StatusCode overrides the token endpoint status (200 if unset). When
	// ErrorCode is set a 400 with the RFC 6749 error body is served.
	StatusCode int
	ErrorCode  string

	// device authorization response values
	UserCode        string
	DeviceCode      string
	Interval        int
	DeviceExpiresIn int

	// PendingPolls serves authorization_pending this many times before the
	// token endpoint succeeds, simulating a user mid-approval.
	PendingPolls int

	// request capture
	TokenRequests  int
	DeviceRequests int
	LastTokenForm  map[string]string
	LastAuthHeader string

	key jwk.Key
	mu  sync.Mutex
}

// SetupMockAuthServer starts a mock authorization server with sensible
// defaults. The key, when non-nil, backs the JWKS endpoint.
func SetupMockAuthServer(t *testing.T, key jwk.Key) *MockAuthServer {
	t.Helper()

	mock := &MockAuthServer{
		AccessToken:     "test-access-token",
		ExpiresIn:       3600,
		UserCode:        "WDJB-MJHT",
		DeviceCode:      "test-device-code",
		DeviceExpiresIn: 300,
		key:             key,
	}

	router := http.NewServeMux()
	router.HandleFunc("/.well-known/openid-configuration", mock.serveDiscovery)
	router.HandleFunc("/.well-known/jwks.json", mock.serveJWKS)
	router.HandleFunc("/oauth/token", mock.serveToken)
	router.HandleFunc("/oauth/device/code", mock.serveDeviceAuth)

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL returns the issuer base URL.
func (m *MockAuthServer) URL() string {
	return m.Server.URL
}

// TokenURL returns the token endpoint URL.
func (m *MockAuthServer) TokenURL() string {
	return m.Server.URL + "/oauth/token"
}

// DeviceAuthURL returns the device authorization endpoint URL.
func (m *MockAuthServer) DeviceAuthURL() string {
	return m.Server.URL + "/oauth/device/code"
}

// Client returns an HTTP client trusted by the mock server.
func (m *MockAuthServer) Client() *http.Client {
	return m.Server.Client()
}

func (m *MockAuthServer) serveDiscovery(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]any{
		"issuer":                                m.Server.URL,
		"authorization_endpoint":                m.Server.URL + "/authorize",
		"token_endpoint":                        m.TokenURL(),
		"device_authorization_endpoint":         m.DeviceAuthURL(),
		"jwks_uri":                              m.Server.URL + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"grant_types_supported":                 []string{"client_credentials", "refresh_token", "authorization_code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (m *MockAuthServer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	if m.key == nil {
		http.Error(w, "no signing key configured", http.StatusNotFound)
		return
	}

	publicKey, err := jwk.PublicKeyOf(m.key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	set := jwk.NewSet()
	if err := set.AddKey(publicKey); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(set)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (m *MockAuthServer) serveToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TokenRequests++
	m.LastAuthHeader = r.Header.Get("Authorization")

	_ = r.ParseForm()
	m.LastTokenForm = map[string]string{}
	for name := range r.PostForm {
		m.LastTokenForm[name] = r.PostForm.Get(name)
	}

	if m.PendingPolls > 0 {
		m.PendingPolls--
		w.WriteHeader(http.StatusBadRequest)
		WriteJSON(w, map[string]string{"error": "authorization_pending"})
		return
	}

	if m.ErrorCode != "" {
		w.WriteHeader(http.StatusBadRequest)
		WriteJSON(w, map[string]string{
			"error":             m.ErrorCode,
			"error_description": "mock error response",
		})
		return
	}

	if m.StatusCode != 0 && m.StatusCode != http.StatusOK {
		w.WriteHeader(m.StatusCode)
		return
	}

	body := map[string]any{
		"access_token": m.AccessToken,
		"token_type":   "Bearer",
	}
	if m.ExpiresIn != nil {
		body["expires_in"] = m.ExpiresIn
	}
	if m.RefreshToken != "" {
		body["refresh_token"] = m.RefreshToken
	}
	if m.IDToken != "" {
		body["id_token"] = m.IDToken
	}
	if m.Scope != "" {
		body["scope"] = m.Scope
	}

	WriteJSON(w, body)
}

func (m *MockAuthServer) serveDeviceAuth(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeviceRequests++

	body := map[string]any{
		"device_code":               m.DeviceCode,
		"user_code":                 m.UserCode,
		"verification_uri":          m.Server.URL + "/activate",
		"verification_uri_complete": m.Server.URL + "/activate?user_code=" + m.UserCode,
		"expires_in":                m.DeviceExpiresIn,
	}
	if m.Interval > 0 {
		body["interval"] = m.Interval
	}

	WriteJSON(w, body)
}

// WriteJSON writes a payload as a JSON response.
func WriteJSON(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
