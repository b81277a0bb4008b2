// Package constants defines shared constants for the OBO slip authorization service.
package constants

import "time"

// ErrorCode is a machine-readable error code carried by every structured error.
type ErrorCode string

// Error codes for the slip engine taxonomy. Provider-facing codes mirror the
// OAuth 2.0 error vocabulary where one exists.
const (
	ErrCodeUnknownTarget           ErrorCode = "unknown_target"
	ErrCodePolicyDenied            ErrorCode = "policy_denied"
	ErrCodeProviderNotConfigured   ErrorCode = "provider_not_configured"
	ErrCodeInvalidCredential       ErrorCode = "invalid_credential"
	ErrCodeFlowNotFound            ErrorCode = "flow_not_found"
	ErrCodeFlowExpired             ErrorCode = "flow_expired"
	ErrCodeAuthorizationTimedOut   ErrorCode = "authorization_timed_out"
	ErrCodeProviderError           ErrorCode = "provider_error"
	ErrCodeDecryptionFailed        ErrorCode = "decryption_failed"
	ErrCodeTokenVerificationFailed ErrorCode = "token_verification_failed"
	ErrCodeTokenRevoked            ErrorCode = "token_revoked"
	ErrCodeInvalidRequest          ErrorCode = "invalid_request"
	ErrCodeInternal                ErrorCode = "internal_error"
	ErrCodeNotFound                ErrorCode = "not_found"
)

// OAuth device-flow error strings from RFC 8628 §3.5. These are loop-continuation
// signals inside the provisioning state machine, never surfaced to callers.
const (
	OAuthErrAuthorizationPending = "authorization_pending"
	OAuthErrSlowDown             = "slow_down"
	OAuthErrAccessDenied         = "access_denied"
	OAuthErrExpiredToken         = "expired_token"
)

// TokenIssuer defaults.
const (
	// TokenIssuerName is the iss claim on self-referential JWTs.
	TokenIssuerName = "obo"

	// RevocationRetention is how long revocation entries are kept before purge.
	RevocationRetention = 7 * 24 * time.Hour

	// RevocationPurgeInterval is the cadence of the background purge.
	RevocationPurgeInterval = time.Hour
)

// Provisioning state machine defaults.
const (
	// DefaultDeviceFlowExpiry bounds a device flow when the authorization
	// server does not supply expires_in.
	DefaultDeviceFlowExpiry = 15 * time.Minute

	// DefaultPollInterval is used when the authorization server does not
	// supply an interval.
	DefaultPollInterval = 5 * time.Second

	// MaxPollAttempts bounds a single CompleteProvisioning polling sequence.
	MaxPollAttempts = 30

	// DefaultPKCEFlowExpiry bounds the wait for an authorization callback.
	DefaultPKCEFlowExpiry = 10 * time.Minute

	// ProviderHTTPTimeout is the upper bound on any single outbound call to
	// an authorization server or validation probe.
	ProviderHTTPTimeout = 15 * time.Second
)

// SlipStatus is the lifecycle state of a slip.
type SlipStatus string

const (
	SlipStatusActive  SlipStatus = "active"
	SlipStatusRevoked SlipStatus = "revoked"
	SlipStatusExpired SlipStatus = "expired"
)

// ProvisioningMethod records how a slip's credential was (or will be) acquired.
type ProvisioningMethod string

const (
	MethodOAuth   ProvisioningMethod = "oauth"
	MethodGenesis ProvisioningMethod = "genesis"
	MethodBYOC    ProvisioningMethod = "byoc"
	MethodRogue   ProvisioningMethod = "rogue"
)

// ActorType is descriptive metadata on an actor record.
type ActorType string

const (
	ActorTypeService ActorType = "service"
	ActorTypeAgent   ActorType = "agent"
	ActorTypeUser    ActorType = "user"
)

// Decision is the outcome of policy evaluation.
type Decision string

const (
	DecisionAutoApprove   Decision = "auto_approve"
	DecisionManualApprove Decision = "manual_approve"
	DecisionDeny          Decision = "deny"
)

// AuditEventType labels audit events emitted by the ledger.
type AuditEventType string

const (
	AuditEventSlipRequested     AuditEventType = "slip.requested"
	AuditEventSlipDenied        AuditEventType = "slip.denied"
	AuditEventSlipProvisioned   AuditEventType = "slip.provisioned"
	AuditEventSlipRevoked       AuditEventType = "slip.revoked"
	AuditEventSlipExpired       AuditEventType = "slip.expired"
	AuditEventFlowStarted       AuditEventType = "flow.started"
	AuditEventFlowCompleted     AuditEventType = "flow.completed"
	AuditEventFlowDenied        AuditEventType = "flow.denied"
	AuditEventFlowExpired       AuditEventType = "flow.expired"
	AuditEventTokenIssued       AuditEventType = "token.issued"
	AuditEventTokenRevoked      AuditEventType = "token.revoked"
	AuditEventKeyRotated        AuditEventType = "key.rotated"
	AuditEventCredentialDropped AuditEventType = "credential.one_time_dropped"
)

// Context keys used for request-scoped enrichment.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyPrincipal ContextKey = "principal"
	ContextKeyActor     ContextKey = "actor"
	ContextKeyTraceID   ContextKey = "trace_id"
)

// LogLevel enumerates logger verbosity levels.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)
