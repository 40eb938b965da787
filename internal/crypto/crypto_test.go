package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("custody-api-secret", "pass123")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "pass123")
	require.NoError(t, err)
	assert.Equal(t, "custody-api-secret", got)

	_, err = DecryptSecret(blob, "wrong-password")
	assert.Error(t, err)
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	_, err := LoadSecret(SecretConfig{})
	assert.Error(t, err, "no source configured")

	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, SecretPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestHeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "secret-1"}

	h1 := auth.HeadersAt("POST", "/v1/wallets/w/trades", `{"amount":"1"}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/v1/wallets/w/trades", `{"amount":"1"}`, 1700000000)

	assert.Equal(t, h1, h2)
	assert.Equal(t, "key-1", h1["X-Custody-Api-Key"])
	assert.Equal(t, "1700000000", h1["X-Custody-Timestamp"])
	assert.NotEmpty(t, h1["X-Custody-Signature"])

	// Different body must change the signature.
	h3 := auth.HeadersAt("POST", "/v1/wallets/w/trades", `{"amount":"2"}`, 1700000000)
	assert.NotEqual(t, h1["X-Custody-Signature"], h3["X-Custody-Signature"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-abcdef"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.NotContains(t, s, "abcdef")
}
