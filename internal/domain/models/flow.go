package models

import (
	"time"

	"github.com/turtacn/obo/pkg/constants"
)

// FlowProtocol discriminates the two provisioning handshake variants.
type FlowProtocol string

const (
	FlowProtocolDevice FlowProtocol = "device"
	FlowProtocolPKCE   FlowProtocol = "pkce"
)

// DeviceFlowState holds the server state of an RFC 8628 device flow.
type DeviceFlowState struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
}

// PKCEFlowState holds the server state of an RFC 7636 authorization-code flow.
type PKCEFlowState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

// PendingFlow is the transient record of a multi-step provisioning handshake.
// It is a tagged union: exactly one of Device or PKCE is set, matching
// Protocol. At most one live PendingFlow exists per slip; starting a new flow
// replaces the old entry. A flow is deleted on success, expiry or terminal
// error.
type PendingFlow struct {
	SlipID       string           `json:"slip_id"`
	Target       string           `json:"target"`
	Protocol     FlowProtocol     `json:"protocol"`
	Device       *DeviceFlowState `json:"device,omitempty"`
	PKCE         *PKCEFlowState   `json:"pkce,omitempty"`
	PollInterval time.Duration    `json:"poll_interval"`
	ExpiresAt    time.Time        `json:"expires_at"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewDeviceFlow creates a pending device flow for a slip.
func NewDeviceFlow(slipID, target string, state DeviceFlowState, interval time.Duration, expiresAt time.Time) *PendingFlow {
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	return &PendingFlow{
		SlipID:       slipID,
		Target:       target,
		Protocol:     FlowProtocolDevice,
		Device:       &state,
		PollInterval: interval,
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewPKCEFlow creates a pending PKCE flow for a slip, keyed additionally by
// its state parameter for callback correlation.
func NewPKCEFlow(slipID, target string, state PKCEFlowState, expiresAt time.Time) *PendingFlow {
	return &PendingFlow{
		SlipID:    slipID,
		Target:    target,
		Protocol:  FlowProtocolPKCE,
		PKCE:      &state,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

// IsExpired reports whether the flow's deadline has passed.
func (f *PendingFlow) IsExpired() bool {
	return time.Now().UTC().After(f.ExpiresAt)
}

// StateKey returns the PKCE state used as a secondary lookup key, or empty for
// device flows.
func (f *PendingFlow) StateKey() string {
	if f.PKCE != nil {
		return f.PKCE.State
	}
	return ""
}
