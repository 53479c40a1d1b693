package idtoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/grantwell/discovery"
)

type issuerFixture struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	keyID  string
}

// newIssuer runs a test authorization server publishing discovery metadata
// and a JWKS for a freshly generated RSA key.
func newIssuer(t *testing.T) *issuerFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fixture := &issuerFixture{key: key, keyID: "test-signing-key"}

	mux := http.NewServeMux()
	mux.HandleFunc(discovery.WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(discovery.Document{
			Issuer:                           fixture.server.URL,
			TokenEndpoint:                    fixture.server.URL + "/oauth/token",
			JwksURI:                          fixture.server.URL + "/.well-known/jwks.json",
			IDTokenSigningAlgValuesSupported: []string{"RS256"},
		})
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       &key.PublicKey,
				KeyID:     fixture.keyID,
				Algorithm: "RS256",
				Use:       "sig",
			}},
		})
	})

	fixture.server = httptest.NewServer(mux)
	t.Cleanup(fixture.server.Close)

	return fixture
}

func (f *issuerFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.keyID

	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *issuerFixture) validClaims(audience string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": f.server.URL,
		"aud": audience,
		"sub": "user-129",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func newValidator(f *issuerFixture, audience string, options Options) *Validator {
	dc := discovery.NewCache(f.server.Client(), nil, discovery.DefaultPolicy())
	return NewValidator(dc, f.server.Client(), audience, options)
}

func TestValidate_Valid(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	token := issuer.sign(t, issuer.validClaims("client-1"))

	claims, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-129", claims["sub"])
	assert.Equal(t, issuer.server.URL, claims["iss"])
}

func TestValidate_Expired(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	claims := issuer.validClaims("client-1")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := v.Validate(context.Background(), issuer.sign(t, claims))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidate_ExpiryToleratedWhenLifetimeCheckOff(t *testing.T) {
	issuer := newIssuer(t)

	options := DefaultOptions()
	options.ValidateLifetime = false
	v := newValidator(issuer, "client-1", options)

	claims := issuer.validClaims("client-1")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := v.Validate(context.Background(), issuer.sign(t, claims))
	assert.NoError(t, err)
}

func TestValidate_WrongAudience(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	_, err := v.Validate(context.Background(), issuer.sign(t, issuer.validClaims("someone-else")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audience")
}

func TestValidate_AudienceFromToken(t *testing.T) {
	issuer := newIssuer(t)

	// no configured audience: the expected value comes from the token, so
	// any token naming an audience is accepted
	v := newValidator(issuer, "", DefaultOptions())

	claims, err := v.Validate(context.Background(), issuer.sign(t, issuer.validClaims("whichever-client")))
	require.NoError(t, err)
	assert.Equal(t, "whichever-client", claims["aud"])
}

func TestValidate_AudienceAbsent(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "", DefaultOptions())

	claims := issuer.validClaims("unused")
	delete(claims, "aud")

	_, err := v.Validate(context.Background(), issuer.sign(t, claims))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audience")
}

func TestValidate_WrongIssuerName(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	claims := issuer.validClaims("client-1")
	claims["iss"] = issuer.server.URL + "-imposter"

	// discovery resolution itself fails: the forged issuer has no metadata
	_, err := v.Validate(context.Background(), issuer.sign(t, claims))
	assert.Error(t, err)
}

func TestValidate_IssuerMismatchAfterDiscovery(t *testing.T) {
	issuer := newIssuer(t)

	// resolve discovery with a good token first, then validate one whose
	// issuer claim disagrees with the resolved document
	dc := discovery.NewCache(issuer.server.Client(), nil, discovery.DefaultPolicy())
	v := NewValidator(dc, issuer.server.Client(), "client-1", DefaultOptions())

	_, err := v.Validate(context.Background(), issuer.sign(t, issuer.validClaims("client-1")))
	require.NoError(t, err)

	claims := issuer.validClaims("client-1")
	claims["iss"] = "https://imposter.example.com"

	_, err = v.Validate(context.Background(), issuer.sign(t, claims))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer")
}

func TestValidate_TamperedSignature(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, issuer.validClaims("client-1"))
	token.Header["kid"] = issuer.keyID
	forged, err := token.SignedString(otherKey)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), forged)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestValidate_UnknownKeyID(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, issuer.validClaims("client-1"))
	token.Header["kid"] = "rotated-away"
	signed, err := token.SignedString(issuer.key)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rotated-away")
}

func TestValidate_SignatureCheckOffAcceptsForgery(t *testing.T) {
	issuer := newIssuer(t)

	options := DefaultOptions()
	options.ValidateSignature = false
	v := newValidator(issuer, "client-1", options)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, issuer.validClaims("client-1"))
	forged, err := token.SignedString(otherKey)
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), forged)
	require.NoError(t, err)
	assert.Equal(t, "user-129", claims["sub"])
}

func TestValidate_AggregatesFailures(t *testing.T) {
	issuer := newIssuer(t)
	v := newValidator(issuer, "client-1", DefaultOptions())

	claims := jwt.MapClaims{
		"iss": issuer.server.URL,
		"aud": "someone-else",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}

	_, err := v.Validate(context.Background(), issuer.sign(t, claims))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.Contains(t, err.Error(), "audience")
}
