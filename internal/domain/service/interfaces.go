// Package service defines the domain-level contracts consumed by the slip
// ledger: the per-target Provider adapter, the persistence collaborators, and
// the crypto services. Implementations live under internal/infrastructure and
// internal/providers; the ledger depends only on these interfaces so lifecycle
// and test isolation stay explicit.
package service

import (
	"context"
	"time"

	"github.com/turtacn/obo/internal/domain/models"
)

// ================================================================================
// Provider contract
// ================================================================================

// ProvisionResult is what a provider returns from Provision: a draft slip, an
// optional immediate token (synchronous methods: BYOC, genesis), and optional
// human-readable instructions when an async flow was started.
type ProvisionResult struct {
	Slip         *models.Slip
	Token        *models.IssuedToken
	Instructions string
}

// Provider acquires credentials for one target. Implemented once per target,
// consumed by the slip ledger.
type Provider interface {
	// Name returns the target name this provider serves.
	Name() string

	// Supports returns the provisioning capabilities of the target.
	Supports() models.Capabilities

	// Provision acquires (or begins acquiring) a credential for the request.
	// It may start an asynchronous pending flow; in that case the result
	// carries instructions and no token.
	Provision(ctx context.Context, req *models.SlipRequest, slip *models.Slip) (*ProvisionResult, error)

	// Validate performs a BYOC or post-hoc credential check.
	Validate(ctx context.Context, credential, principal string) (bool, error)

	// Revoke performs best-effort provider-side cleanup. Providers whose
	// upstream API lacks revocation log a manual-revocation instruction and
	// return nil.
	Revoke(ctx context.Context, slip *models.Slip) error
}

// AsyncProvider is implemented by providers whose provisioning runs a pending
// flow. The ledger type-asserts to it when completing or resolving callbacks.
type AsyncProvider interface {
	Provider

	// CompleteFlow drives the pending flow for a slip to a terminal state and
	// returns the acquired credential. For device flows this blocks on the
	// bounded poll.
	CompleteFlow(ctx context.Context, slipID string) (string, error)

	// ResolveCallback consumes an authorization callback. When oauthErr is
	// non-empty the flow is discarded and the error surfaced; otherwise the
	// code is exchanged for a credential. Either way the slip ID of the
	// claimed flow is returned.
	ResolveCallback(ctx context.Context, state, code, oauthErr string) (string, string, error)
}

// ================================================================================
// Crypto services
// ================================================================================

// CredentialVault encrypts secrets at rest and hashes them for one-time
// delivery. Implementations are stateless and safe for unlimited concurrent
// use.
type CredentialVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsEncrypted(value string) bool
	Hash(token string) string
	VerifyHash(token, digest string) bool
	EncryptAtRest() bool
	OneTimeDelivery() bool
}

// TokenIssuer signs, verifies and revokes the self-referential JWTs used when
// OBO itself is the target.
type TokenIssuer interface {
	Sign(ctx context.Context, principal string, scopes []string, slipID string, ttl time.Duration) (string, error)
	Verify(ctx context.Context, token string) (*models.Claims, error)
	Revoke(ctx context.Context, jti, reason string) error
	Keys() []models.SigningKey
}

// ================================================================================
// Persistence collaborators
// ================================================================================

// SlipStore persists slips. Mutations must be per-key atomic: concurrent
// operations on different slips must not contend.
type SlipStore interface {
	Insert(ctx context.Context, slip *models.Slip) error
	Get(ctx context.Context, id string) (*models.Slip, error)
	// Update applies fn to the slip under the per-key critical section and
	// persists the result. fn returning an error aborts the update.
	Update(ctx context.Context, id string, fn func(*models.Slip) error) (*models.Slip, error)
	List(ctx context.Context, filter models.SlipFilter) ([]*models.Slip, error)
}

// FlowStore persists pending provisioning flows with set semantics: Put
// replaces any existing flow for the same slip. TakeBySlip and TakeByState are
// atomic lookup-and-delete operations so two concurrent completions cannot
// both observe the same flow.
type FlowStore interface {
	Put(ctx context.Context, flow *models.PendingFlow) error
	GetBySlip(ctx context.Context, slipID string) (*models.PendingFlow, error)
	TakeBySlip(ctx context.Context, slipID string) (*models.PendingFlow, error)
	TakeByState(ctx context.Context, state string) (*models.PendingFlow, error)
	Delete(ctx context.Context, slipID string) error
}

// TokenStore persists issued token records.
type TokenStore interface {
	Insert(ctx context.Context, token *models.IssuedToken) error
	Get(ctx context.Context, id string) (*models.IssuedToken, error)
	GetBySlip(ctx context.Context, slipID string) (*models.IssuedToken, error)
}

// DirectoryStore persists principals, actors and targets. Principals and
// actors are created lazily by the ledger.
type DirectoryStore interface {
	EnsurePrincipal(ctx context.Context, id string) (*models.Principal, error)
	EnsureActor(ctx context.Context, id string, actorType string) (*models.Actor, error)
	GetTarget(ctx context.Context, name string) (*models.Target, error)
	PutTarget(ctx context.Context, target *models.Target) error
}

// PolicySource supplies the current policy set for evaluation. Sources must
// return a snapshot that stays immutable for the duration of an evaluation.
type PolicySource interface {
	Policies(ctx context.Context) ([]models.Policy, error)
}

// RevocationStore backs the TokenIssuer revocation list. Reads must never
// block on the periodic purge.
type RevocationStore interface {
	Revoke(ctx context.Context, entry models.RevocationEntry) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Purge removes entries revoked before the cutoff and returns the count.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditService records security-relevant events. Emission is best effort; a
// failing audit sink must not fail the operation it describes.
type AuditService interface {
	Record(ctx context.Context, event models.AuditEvent)
}

// KeySource loads signing-key material at startup.
type KeySource interface {
	Load(ctx context.Context) ([]models.SigningKey, error)
}
