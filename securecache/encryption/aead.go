// Package encryption loads and manages the Tink AEAD primitives used to
// protect cached tokens at rest.
package encryption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// secretsManagerScheme marks a keyset URI that resolves through AWS
// Secrets Manager. The remainder of the URI is the secret name.
const secretsManagerScheme = "aws-secretsmanager://"

// NewAEADFromKMS assembles the cache encryption primitive from its two
// externally held parts: an envelope-encrypted Tink keyset in AWS Secrets
// Manager (keysetURI, "aws-secretsmanager://secret-name") and the KMS key
// that envelopes it (kmsEnvelopeKeyURI, "aws-kms://arn:..."). KMS is
// contacted once here to unwrap the keyset; everything after that runs
// locally. The returned AEAD has already passed a round-trip check.
func NewAEADFromKMS(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (tink.AEAD, error) {
	secretName, err := parseKeysetURI(keysetURI)
	if err != nil {
		return nil, err
	}

	keysetJSON, err := fetchKeysetSecret(ctx, secretName)
	if err != nil {
		return nil, fmt.Errorf("fetching keyset %q: %w", secretName, err)
	}

	envelope, err := awskms.NewAEADWithContext(ctx, kmsEnvelopeKeyURI)
	if err != nil {
		return nil, fmt.Errorf("binding KMS envelope key: %w", err)
	}

	reader := keyset.NewJSONReader(strings.NewReader(keysetJSON))
	handle, err := keyset.ReadWithContext(ctx, reader, envelope, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrapping keyset: %w", err)
	}

	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("building AEAD from keyset: %w", err)
	}

	if err := Validate(primitive); err != nil {
		return nil, err
	}

	return primitive, nil
}

// parseKeysetURI extracts the secret name from a Secrets Manager keyset URI.
func parseKeysetURI(uri string) (string, error) {
	name, ok := strings.CutPrefix(uri, secretsManagerScheme)
	if !ok {
		return "", fmt.Errorf("keyset URI %q: expected %s scheme", uri, secretsManagerScheme)
	}
	if name == "" {
		return "", fmt.Errorf("keyset URI %q: secret name is empty", uri)
	}
	return name, nil
}

// fetchKeysetSecret retrieves the serialized keyset from Secrets Manager
// using ambient AWS credentials.
func fetchKeysetSecret(ctx context.Context, secretName string) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	out, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretName,
	})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil {
		return "", errors.New("secret holds no string value")
	}

	return *out.SecretString, nil
}

// Validate proves the AEAD can complete an encrypt/decrypt cycle. Run once
// at startup so a misconfigured keyset fails the process early instead of
// on the first cache write.
func Validate(a tink.AEAD) error {
	plaintext := []byte("grantwell keyset check")
	aad := []byte("validation")

	sealed, err := a.Encrypt(plaintext, aad)
	if err != nil {
		return fmt.Errorf("keyset check encrypt: %w", err)
	}

	opened, err := a.Decrypt(sealed, aad)
	if err != nil {
		return fmt.Errorf("keyset check decrypt: %w", err)
	}

	if !bytes.Equal(opened, plaintext) {
		return errors.New("keyset check round-trip altered the plaintext")
	}

	return nil
}

// NewTestAEAD builds an AEAD over a fresh in-memory AES-256-GCM keyset.
// Only for tests: the keyset is neither persisted nor protected.
func NewTestAEAD() (tink.AEAD, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("generating test keyset: %w", err)
	}
	return aead.New(handle)
}
