// Package errors defines the structured error types used across the OBO slip
// authorization service. Every failure that crosses a component boundary keeps
// its specific kind so calling layers can render actionable guidance instead of
// a generic failure.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/obo/pkg/constants"
)

// OBOError is a structured error with a machine-readable code, an HTTP status
// for the transport layer, and optional metadata and cause chaining.
type OBOError interface {
	error

	// Code returns the machine-readable error code.
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status this error maps to.
	HTTPStatus() int

	// Description returns a human-readable description.
	Description() string

	// Unwrap returns the underlying cause, if any.
	Unwrap() error

	// WithCause attaches a cause to the error chain.
	WithCause(cause error) OBOError

	// WithMetadata attaches a context key/value pair.
	WithMetadata(key string, value interface{}) OBOError

	// Metadata returns all attached metadata.
	Metadata() map[string]interface{}
}

type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

func (e *baseError) Code() constants.ErrorCode { return e.code }
func (e *baseError) HTTPStatus() int           { return e.httpStatus }
func (e *baseError) Description() string       { return e.description }
func (e *baseError) Unwrap() error             { return e.cause }

func (e *baseError) WithCause(cause error) OBOError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) OBOError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// New creates a new OBOError with the given parameters.
func New(code constants.ErrorCode, httpStatus int, description, message string) OBOError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Taxonomy constructors
// ================================================================================

// ErrUnknownTarget reports a request for a target that has no provider.
func ErrUnknownTarget(target string) OBOError {
	return New(
		constants.ErrCodeUnknownTarget,
		http.StatusNotFound,
		"No provider is registered for the requested target service.",
		fmt.Sprintf("unknown target: %s", target),
	).WithMetadata("target", target)
}

// ErrPolicyDenied reports a deny decision from policy evaluation.
func ErrPolicyDenied(reason string) OBOError {
	return New(
		constants.ErrCodePolicyDenied,
		http.StatusForbidden,
		"The request was denied by policy.",
		fmt.Sprintf("policy denied: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrProviderNotConfigured reports a provider that is missing required
// configuration such as a client id or client secret.
func ErrProviderNotConfigured(target, detail string) OBOError {
	return New(
		constants.ErrCodeProviderNotConfigured,
		http.StatusServiceUnavailable,
		"The provider for this target is not fully configured.",
		fmt.Sprintf("provider %s not configured: %s", target, detail),
	).WithMetadata("target", target)
}

// ErrInvalidCredential reports a failed BYOC validation.
func ErrInvalidCredential(reason string) OBOError {
	return New(
		constants.ErrCodeInvalidCredential,
		http.StatusBadRequest,
		"The supplied credential failed validation.",
		fmt.Sprintf("invalid credential: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrFlowNotFound reports a completion attempt for a slip with no pending flow.
func ErrFlowNotFound(slipID string) OBOError {
	return New(
		constants.ErrCodeFlowNotFound,
		http.StatusNotFound,
		"No pending provisioning flow exists for this slip.",
		fmt.Sprintf("no pending flow for slip %s", slipID),
	).WithMetadata("slip_id", slipID)
}

// ErrFlowExpired reports a pending flow whose deadline has passed.
func ErrFlowExpired(slipID string) OBOError {
	return New(
		constants.ErrCodeFlowExpired,
		http.StatusGone,
		"The pending provisioning flow has expired.",
		fmt.Sprintf("provisioning flow for slip %s has expired", slipID),
	).WithMetadata("slip_id", slipID)
}

// ErrAuthorizationTimedOut reports an exhausted polling budget.
func ErrAuthorizationTimedOut(slipID string, attempts int) OBOError {
	return New(
		constants.ErrCodeAuthorizationTimedOut,
		http.StatusGatewayTimeout,
		"The user did not complete authorization within the polling budget.",
		fmt.Sprintf("authorization timed out after %d attempts for slip %s", attempts, slipID),
	).WithMetadata("slip_id", slipID).WithMetadata("attempts", attempts)
}

// ErrProvider wraps a verbatim upstream provider error.
func ErrProvider(code, description string) OBOError {
	return New(
		constants.ErrCodeProviderError,
		http.StatusBadGateway,
		"The upstream provider reported an error.",
		fmt.Sprintf("provider error %s: %s", code, description),
	).WithMetadata("provider_code", code).WithMetadata("provider_description", description)
}

// ErrDecryption reports a failed decrypt: tag mismatch or malformed format.
func ErrDecryption(reason string) OBOError {
	return New(
		constants.ErrCodeDecryptionFailed,
		http.StatusInternalServerError,
		"The stored secret could not be decrypted.",
		fmt.Sprintf("decryption failed: %s", reason),
	)
}

// ErrTokenVerificationFailed reports a JWT that no configured key verifies.
func ErrTokenVerificationFailed(reason string) OBOError {
	return New(
		constants.ErrCodeTokenVerificationFailed,
		http.StatusUnauthorized,
		"The token failed verification against every configured key.",
		fmt.Sprintf("token verification failed: %s", reason),
	)
}

// ErrTokenRevoked reports a token whose jti is on the revocation list.
func ErrTokenRevoked(jti string) OBOError {
	return New(
		constants.ErrCodeTokenRevoked,
		http.StatusUnauthorized,
		"The token has been revoked.",
		fmt.Sprintf("token %s has been revoked", jti),
	).WithMetadata("jti", jti)
}

// ErrInvalidRequest reports a malformed or incomplete request.
func ErrInvalidRequest(message string) OBOError {
	return New(
		constants.ErrCodeInvalidRequest,
		http.StatusBadRequest,
		"The request is missing a required parameter or is otherwise malformed.",
		message,
	)
}

// ErrNotFound reports a missing record.
func ErrNotFound(kind, id string) OBOError {
	return New(
		constants.ErrCodeNotFound,
		http.StatusNotFound,
		fmt.Sprintf("%s not found", kind),
		fmt.Sprintf("%s %s not found", kind, id),
	).WithMetadata("id", id)
}

// ErrInternal reports an unexpected internal failure.
func ErrInternal(message string) OBOError {
	return New(
		constants.ErrCodeInternal,
		http.StatusInternalServerError,
		"An unexpected internal error occurred.",
		message,
	)
}

// Wrap converts a generic error into an OBOError with the given code.
func Wrap(err error, code constants.ErrorCode, message string) OBOError {
	var httpStatus int
	switch code {
	case constants.ErrCodeInvalidRequest, constants.ErrCodeInvalidCredential:
		httpStatus = http.StatusBadRequest
	case constants.ErrCodeUnknownTarget, constants.ErrCodeFlowNotFound, constants.ErrCodeNotFound:
		httpStatus = http.StatusNotFound
	case constants.ErrCodePolicyDenied:
		httpStatus = http.StatusForbidden
	case constants.ErrCodeTokenRevoked, constants.ErrCodeTokenVerificationFailed:
		httpStatus = http.StatusUnauthorized
	case constants.ErrCodeProviderError:
		httpStatus = http.StatusBadGateway
	default:
		httpStatus = http.StatusInternalServerError
	}
	return New(code, httpStatus, message, message).WithCause(err)
}

// ================================================================================
// Inspection helpers
// ================================================================================

// As attempts to cast err (or anything in its chain) to an OBOError.
func As(err error) (OBOError, bool) {
	var oe *baseError
	if stderrors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code constants.ErrorCode) bool {
	if oe, ok := As(err); ok {
		return oe.Code() == code
	}
	return false
}

// Is delegates to the standard library for sentinel comparisons.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// ErrorResponse is the JSON wire shape for error replies.
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error to its wire shape. Unknown errors collapse
// to internal_error without leaking detail.
func ToErrorResponse(err error) *ErrorResponse {
	if oe, ok := As(err); ok {
		return &ErrorResponse{
			Error:            string(oe.Code()),
			ErrorDescription: oe.Description(),
			Metadata:         oe.Metadata(),
		}
	}
	return &ErrorResponse{
		Error:            string(constants.ErrCodeInternal),
		ErrorDescription: "An unexpected error occurred",
	}
}
