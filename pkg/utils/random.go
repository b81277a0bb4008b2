// Package utils provides small shared helpers: secure random material and the
// PKCE verifier/challenge pair used by the provisioning state machine.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// GenerateSecureRandomString returns a URL-safe random string of n bytes of
// entropy, base64url-encoded without padding.
func GenerateSecureRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// userCodeAlphabet excludes ambiguous characters (0/O, 1/I) so the code can be
// read aloud and typed on a second device.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ23456789"

// GenerateUserCode returns a short human-typable code in XXXX-XXXX form.
func GenerateUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var sb strings.Builder
	for i, b := range buf {
		if i == 4 {
			sb.WriteByte('-')
		}
		sb.WriteByte(userCodeAlphabet[int(b)%len(userCodeAlphabet)])
	}
	return sb.String(), nil
}

// GeneratePKCEPair returns a code verifier and its S256 challenge per RFC 7636:
// SHA-256 over the verifier, base64url-encoded without padding.
func GeneratePKCEPair() (verifier, challenge string, err error) {
	verifier, err = GenerateSecureRandomString(32)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
