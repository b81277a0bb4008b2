package models

import (
	"time"

	"github.com/google/uuid"
)

// IssuedToken is the credential owned by exactly one slip. Secret may be empty
// under one-time delivery: the plaintext is handed out once and only its hash
// is retained, so the token can thereafter be verified but never retrieved.
type IssuedToken struct {
	ID         string            `json:"id"`
	SlipID     string            `json:"slip_id"`
	Type       string            `json:"type"`
	Secret     string            `json:"secret,omitempty"`
	SecretHash string            `json:"secret_hash,omitempty"`
	Reference  string            `json:"reference"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewIssuedToken creates a token record bound to a slip.
func NewIssuedToken(slipID, tokenType, secret, reference string) *IssuedToken {
	return &IssuedToken{
		ID:        uuid.NewString(),
		SlipID:    slipID,
		Type:      tokenType,
		Secret:    secret,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
}
