package models

import (
	"time"

	"github.com/turtacn/obo/pkg/constants"
)

// Policy is a rule set matched against a slip request. The pattern lists use
// the matcher vocabulary: "*" glob, exact string, or trailing-":" prefix.
// Policies are immutable during evaluation; mutation goes through the
// administrative update path only.
type Policy struct {
	ID            string        `json:"id" yaml:"id"`
	Principals    []string      `json:"principals" yaml:"principals"`
	Actors        []string      `json:"actors" yaml:"actors"`
	Targets       []string      `json:"targets" yaml:"targets"`
	AutoApprove   []string      `json:"auto_approve" yaml:"autoApprove"`
	ManualApprove []string      `json:"manual_approve" yaml:"manualApprove"`
	Deny          []string      `json:"deny" yaml:"deny"`
	MaxTTL        time.Duration `json:"max_ttl,omitempty" yaml:"maxTtl"`
}

// PolicyResult is the outcome of evaluating a request against the policy set.
// It is always present on a slip.
type PolicyResult struct {
	Decision constants.Decision `json:"decision"`
	PolicyID string             `json:"policy_id,omitempty"`
	Reason   string             `json:"reason"`
}
