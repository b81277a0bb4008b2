package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(&config.CryptoConfig{
		EncryptionSecret: "unit-test-secret",
		EncryptionSalt:   "unit-test-salt",
		EncryptAtRest:    true,
	})
	require.NoError(t, err)
	return v
}

func TestVaultRequiresSecretWhenEncrypting(t *testing.T) {
	_, err := NewVault(&config.CryptoConfig{EncryptAtRest: true})
	assert.Error(t, err)
}

func TestVaultEncryptDecryptRoundtrip(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Encrypt("gho_supersecrettoken")
	require.NoError(t, err)
	assert.NotContains(t, ct, "supersecret")
	assert.Len(t, strings.Split(ct, ":"), 3)
	assert.True(t, v.IsEncrypted(ct))

	plain, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "gho_supersecrettoken", plain)
}

func TestVaultEncryptIsNondeterministic(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same input")
	require.NoError(t, err)
	b, err := v.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "a fresh iv must be drawn per encryption")
}

func TestVaultDecryptRejectsTampering(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Encrypt("payload")
	require.NoError(t, err)

	parts := strings.Split(ct, ":")
	// Flip the auth tag segment wholesale.
	parts[1] = parts[2]
	_, err = v.Decrypt(strings.Join(parts, ":"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeDecryptionFailed))
}

func TestVaultDecryptRejectsMalformedFormat(t *testing.T) {
	v := newTestVault(t)

	for _, bad := range []string{"", "one", "one:two", "a:b:c:d", "!!!:!!!:!!!"} {
		_, err := v.Decrypt(bad)
		assert.True(t, errors.IsCode(err, constants.ErrCodeDecryptionFailed), "input %q", bad)
	}
}

func TestVaultIsEncrypted(t *testing.T) {
	v := newTestVault(t)

	assert.False(t, v.IsEncrypted("plaintext token"))
	assert.False(t, v.IsEncrypted("a:b"))
	assert.False(t, v.IsEncrypted("::"))

	ct, err := v.Encrypt("x")
	require.NoError(t, err)
	assert.True(t, v.IsEncrypted(ct))
}

func TestVaultHashAndVerify(t *testing.T) {
	v := newTestVault(t)

	digest := v.Hash("one-time-token")
	assert.Len(t, digest, 64) // sha-256 hex
	assert.True(t, v.VerifyHash("one-time-token", digest))
	assert.False(t, v.VerifyHash("another-token", digest))
}

func TestVaultPassthroughWhenDisabled(t *testing.T) {
	v, err := NewVault(&config.CryptoConfig{EncryptAtRest: false})
	require.NoError(t, err)

	ct, err := v.Encrypt("as-is")
	require.NoError(t, err)
	assert.Equal(t, "as-is", ct)

	plain, err := v.Decrypt("as-is")
	require.NoError(t, err)
	assert.Equal(t, "as-is", plain)
	assert.False(t, v.EncryptAtRest())
}
