// Package crypto implements the CredentialVault and TokenIssuer: at-rest
// encryption of provider secrets and issuance/verification/revocation of the
// self-referential JWTs used when OBO itself is the target.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/errors"
)

// encrypted secrets are stored as base64(iv):base64(tag):base64(ciphertext).
// The ':' delimiter never appears in the base64 alphabet, so the format check
// is unambiguous.
const ctDelimiter = ":"

// scrypt parameters: interactive-grade work factor. The configured secret is
// never used directly as the cipher key.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// Vault is the CredentialVault implementation. It derives its AES-256 key
// once at construction and is thereafter stateless and safe for unlimited
// concurrent use.
type Vault struct {
	aead            cipher.AEAD
	encryptAtRest   bool
	oneTimeDelivery bool
}

var _ service.CredentialVault = (*Vault)(nil)

// NewVault derives the cipher key from the configured secret with scrypt and
// prepares the AES-GCM AEAD.
func NewVault(cfg *config.CryptoConfig) (*Vault, error) {
	if cfg.EncryptAtRest && cfg.EncryptionSecret == "" {
		return nil, fmt.Errorf("encryption secret is required when encrypt_at_rest is enabled")
	}

	v := &Vault{
		encryptAtRest:   cfg.EncryptAtRest,
		oneTimeDelivery: cfg.OneTimeDelivery,
	}
	if !cfg.EncryptAtRest {
		return v, nil
	}

	key, err := scrypt.Key([]byte(cfg.EncryptionSecret), []byte(cfg.EncryptionSalt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	v.aead = aead
	return v, nil
}

// EncryptAtRest reports whether secrets are encrypted before persistence.
func (v *Vault) EncryptAtRest() bool { return v.encryptAtRest }

// OneTimeDelivery reports whether plaintext secrets are dropped after first
// delivery, keeping only their hash.
func (v *Vault) OneTimeDelivery() bool { return v.oneTimeDelivery }

// Encrypt seals plaintext with AES-256-GCM and encodes the result as
// base64(iv):base64(tag):base64(ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v.aead == nil {
		return plaintext, nil
	}
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", errors.ErrInternal("generate iv").WithCause(err)
	}

	// Seal appends the 16-byte auth tag to the ciphertext; split it back out
	// so the wire format carries the tag as its own segment.
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - v.aead.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}, ctDelimiter), nil
}

// Decrypt reverses Encrypt. It fails with a DecryptionError on a malformed
// format (wrong number of parts, bad base64) or an authentication tag
// mismatch.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if v.aead == nil {
		return ciphertext, nil
	}
	parts := strings.Split(ciphertext, ctDelimiter)
	if len(parts) != 3 {
		return "", errors.ErrDecryption(fmt.Sprintf("expected 3 parts, got %d", len(parts)))
	}
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errors.ErrDecryption("malformed iv").WithCause(err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.ErrDecryption("malformed auth tag").WithCause(err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", errors.ErrDecryption("malformed ciphertext").WithCause(err)
	}
	if len(iv) != v.aead.NonceSize() {
		return "", errors.ErrDecryption("iv length mismatch")
	}

	plain, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", errors.ErrDecryption("authentication failed").WithCause(err)
	}
	return string(plain), nil
}

// IsEncrypted is a structural check: exactly three non-empty base64-charset
// parts. It is used to avoid double-encrypting and to decide whether Decrypt
// should run at all.
func (v *Vault) IsEncrypted(value string) bool {
	parts := strings.Split(value, ctDelimiter)
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" || !isBase64(p) {
			return false
		}
	}
	return true
}

// Hash returns the one-way SHA-256 hex digest of a token, used in one-time
// delivery mode where the plaintext is never persisted.
func (v *Vault) Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether token hashes to digest, in constant time.
func (v *Vault) VerifyHash(token, digest string) bool {
	return hmac.Equal([]byte(v.Hash(token)), []byte(digest))
}

func isBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
