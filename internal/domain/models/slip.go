// Package models defines the domain models for the OBO slip authorization
// service: slips, tokens, policies, pending provisioning flows, signing keys
// and the directory records they reference.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/obo/pkg/constants"
)

// Slip is the authorization record linking an actor, a principal, a target and
// a granted scope. After creation only Status and TokenID are mutated (by flow
// completion and revocation); everything else is immutable.
type Slip struct {
	ID                 string                       `json:"id"`
	Actor              string                       `json:"actor"`
	Principal          string                       `json:"principal"`
	Target             string                       `json:"target"`
	RequestedScope     []string                     `json:"requested_scope"`
	GrantedScope       []string                     `json:"granted_scope"`
	IssuedAt           time.Time                    `json:"issued_at"`
	ExpiresAt          *time.Time                   `json:"expires_at,omitempty"`
	ProvisioningMethod constants.ProvisioningMethod `json:"provisioning_method"`
	TokenID            string                       `json:"token_id,omitempty"`
	PolicyResult       PolicyResult                 `json:"policy_result"`
	Status             constants.SlipStatus         `json:"status"`
}

// NewSlip creates an active slip for the given request. GrantedScope starts as
// a copy of the requested scope; providers may narrow it during provisioning
// but never widen it.
func NewSlip(req *SlipRequest, method constants.ProvisioningMethod, result PolicyResult) *Slip {
	now := time.Now().UTC()
	s := &Slip{
		ID:                 uuid.NewString(),
		Actor:              req.Actor,
		Principal:          req.Principal,
		Target:             req.Target,
		RequestedScope:     append([]string(nil), req.Scope...),
		GrantedScope:       append([]string(nil), req.Scope...),
		IssuedAt:           now,
		ProvisioningMethod: method,
		PolicyResult:       result,
		Status:             constants.SlipStatusActive,
	}
	if req.TTL > 0 {
		exp := now.Add(req.TTL)
		s.ExpiresAt = &exp
	}
	return s
}

// IsExpired reports whether the slip's expiry has passed. Slips without an
// expiry never expire.
func (s *Slip) IsExpired() bool {
	return s.ExpiresAt != nil && time.Now().UTC().After(*s.ExpiresAt)
}

// IsActive reports whether the slip is usable.
func (s *Slip) IsActive() bool {
	return s.Status == constants.SlipStatusActive && !s.IsExpired()
}

// Terminal reports whether the slip has reached a state it can never leave.
// A revoked or expired slip never transitions back to active.
func (s *Slip) Terminal() bool {
	return s.Status == constants.SlipStatusRevoked || s.Status == constants.SlipStatusExpired
}

// SlipRequest is a caller's request for temporary access.
type SlipRequest struct {
	Actor     string        `json:"actor"`
	ActorType constants.ActorType `json:"actor_type,omitempty"`
	Principal string        `json:"principal"`
	Target    string        `json:"target"`
	Scope     []string      `json:"scope"`
	TTL       time.Duration `json:"ttl,omitempty"`
	Reason    string        `json:"reason,omitempty"`

	// Credential carries a bring-your-own credential when the caller already
	// holds one. It is an explicit typed field; free-text fields are never
	// scraped for secrets.
	Credential string `json:"credential,omitempty"`
}

// SlipFilter narrows ListSlips results.
type SlipFilter struct {
	Principal  string
	Target     string
	ActiveOnly bool
}

// Matches reports whether the slip passes the filter.
func (f SlipFilter) Matches(s *Slip) bool {
	if f.Principal != "" && s.Principal != f.Principal {
		return false
	}
	if f.Target != "" && s.Target != f.Target {
		return false
	}
	if f.ActiveOnly && !s.IsActive() {
		return false
	}
	return true
}

// SlipGrant is the result returned to the caller of RequestSlip: the persisted
// slip, an immediate token when provisioning completed synchronously, and
// human-readable instructions when a pending flow requires a user step.
type SlipGrant struct {
	Slip         *Slip        `json:"slip"`
	Token        *IssuedToken `json:"token,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
}
