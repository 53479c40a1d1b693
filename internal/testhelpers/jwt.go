package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/require"
)

// GenerateJWK generates an RSA 2048-bit key pair for token signing.
// Returns a jwk.Key suitable for use with lestrrat-go/jwx.
func GenerateJWK(t *testing.T) jwk.Key {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	key, err := jwk.Import(privateKey)
	require.NoError(t, err, "failed to import private key as JWK")

	err = key.Set(jwk.KeyIDKey, "test-kid")
	require.NoError(t, err, "failed to set KeyID")

	err = key.Set(jwk.AlgorithmKey, jwa.RS256())
	require.NoError(t, err, "failed to set Algorithm")

	err = key.Set(jwk.KeyUsageKey, "sig")
	require.NoError(t, err, "failed to set KeyUsage")

	return key
}

// CreateJWT signs a token with the provided key, setting the issuer. The
// token should carry all other desired claims before calling.
func CreateJWT(t *testing.T, key jwk.Key, issuer string, token jwt.Token) string {
	t.Helper()

	err := token.Set(jwt.IssuerKey, issuer)
	require.NoError(t, err, "failed to set issuer")

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), key))
	require.NoError(t, err, "failed to sign JWT")

	return string(signed)
}

// ValidClaims configures a token with valid timing fields: valid from one
// minute ago until one minute from now. Returns the same token for
// chaining.
func ValidClaims(token jwt.Token) jwt.Token {
	now := time.Now().UTC()

	_ = token.Set(jwt.IssuedAtKey, now)
	_ = token.Set(jwt.NotBeforeKey, now.Add(-1*time.Minute))
	_ = token.Set(jwt.ExpirationKey, now.Add(1*time.Minute))

	return token
}
