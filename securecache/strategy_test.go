package securecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinmina/grantwell/securecache/encryption"
)

func TestNoEncryptionStrategy_PassThrough(t *testing.T) {
	ctx := context.Background()
	s := &NoEncryptionStrategy{}

	value, err := s.EncryptValue(ctx, []byte("plaintext"), "key")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", value)

	decrypted, err := s.DecryptValue(ctx, value, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), decrypted)

	assert.Equal(t, "key", s.StorageKey("key"))
	assert.False(t, s.Secure())
}

func TestTinkEncryptionStrategy_RoundTrip(t *testing.T) {
	ctx := context.Background()
	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)
	s := NewTinkEncryptionStrategy(aead)

	value, err := s.EncryptValue(ctx, []byte("secret-grant"), "securityTokens/abc")
	require.NoError(t, err)
	assert.Contains(t, value, valuePrefix)
	assert.NotContains(t, value, "secret-grant")

	decrypted, err := s.DecryptValue(ctx, value, "securityTokens/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-grant"), decrypted)

	assert.True(t, s.Secure())
}

func TestTinkEncryptionStrategy_KeyBinding(t *testing.T) {
	ctx := context.Background()
	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)
	s := NewTinkEncryptionStrategy(aead)

	value, err := s.EncryptValue(ctx, []byte("secret"), "key-a")
	require.NoError(t, err)

	// the key is bound as associated data: a different key must not decrypt
	_, err = s.DecryptValue(ctx, value, "key-b")
	assert.Error(t, err)
}

func TestTinkEncryptionStrategy_RejectsUnprefixedValue(t *testing.T) {
	ctx := context.Background()
	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)
	s := NewTinkEncryptionStrategy(aead)

	_, err = s.DecryptValue(ctx, "plaintext-value", "key")
	assert.Error(t, err)
}

func TestTinkEncryptionStrategy_StorageKeyPrefix(t *testing.T) {
	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)
	s := NewTinkEncryptionStrategy(aead)

	assert.Equal(t, storageKeyPrefix+"abc", s.StorageKey("abc"))
}
