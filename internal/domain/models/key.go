package models

import (
	"strconv"
	"time"
)

// SigningKey is one member of the TokenIssuer key set. The key with the lowest
// ID is primary (used for signing); every configured key stays in the
// verification set so tokens signed before a rotation keep verifying until
// they expire.
type SigningKey struct {
	ID        int       `json:"id"`
	Key       []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// KID returns the header value identifying this key on signed tokens.
func (k SigningKey) KID() string {
	return "key-" + strconv.Itoa(k.ID)
}

// RevocationEntry marks a jti as revoked. Entries are garbage-collected after
// the retention window.
type RevocationEntry struct {
	JTI       string    `json:"jti"`
	RevokedAt time.Time `json:"revoked_at"`
	Reason    string    `json:"reason,omitempty"`
}
