package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/pkg/constants"
)

func basePolicy() models.Policy {
	return models.Policy{
		ID:          "pol-default",
		Principals:  []string{"*"},
		Actors:      []string{"*"},
		Targets:     []string{"github"},
		AutoApprove: []string{"repos:read", "issues:*"},
		ManualApprove: []string{
			"repos:write",
		},
		Deny:   []string{"admin:"},
		MaxTTL: time.Hour,
	}
}

func req(scope ...string) Request {
	return Request{
		Principal: "alice@example.com",
		Actor:     "agent-1",
		Target:    "github",
		Scope:     scope,
	}
}

func TestEvaluateAutoApprove(t *testing.T) {
	res := Evaluate(req("repos:read", "issues:write"), []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionAutoApprove, res.Decision)
	assert.Equal(t, "pol-default", res.PolicyID)
}

func TestEvaluateNoApplicablePolicy(t *testing.T) {
	r := req("repos:read")
	r.Target = "gitlab"
	res := Evaluate(r, []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionDeny, res.Decision)
	assert.Equal(t, "no applicable policy", res.Reason)
}

func TestEvaluateDenyDominates(t *testing.T) {
	// One scope auto-approved, one denied: deny wins for the whole request.
	res := Evaluate(req("repos:read", "admin:users"), []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "admin:users")
}

func TestEvaluateManualDominatesAuto(t *testing.T) {
	res := Evaluate(req("repos:read", "repos:write"), []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionManualApprove, res.Decision)
	assert.Contains(t, res.Reason, "repos:write")
}

func TestEvaluateManualAcrossPolicies(t *testing.T) {
	// A scope matching auto in one policy and manual in another requires
	// manual approval.
	second := basePolicy()
	second.ID = "pol-strict"
	second.AutoApprove = nil
	second.ManualApprove = []string{"repos:read"}
	res := Evaluate(req("repos:read"), []models.Policy{basePolicy(), second})
	assert.Equal(t, constants.DecisionManualApprove, res.Decision)
}

func TestEvaluateTTLCap(t *testing.T) {
	r := req("repos:read")
	r.TTL = 2 * time.Hour
	res := Evaluate(r, []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "TTL")
}

func TestEvaluateTTLWithinCap(t *testing.T) {
	r := req("repos:read")
	r.TTL = 30 * time.Minute
	res := Evaluate(r, []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionAutoApprove, res.Decision)
}

func TestEvaluateZeroMaxTTLMeansUnlimited(t *testing.T) {
	p := basePolicy()
	p.MaxTTL = 0
	r := req("repos:read")
	r.TTL = 1000 * time.Hour
	res := Evaluate(r, []models.Policy{p})
	assert.Equal(t, constants.DecisionAutoApprove, res.Decision)
}

func TestEvaluateUnmatchedScopeImplicitlyDenied(t *testing.T) {
	res := Evaluate(req("gists:read"), []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "gists:read")
}

func TestEvaluateEmptyScopeSetDenied(t *testing.T) {
	res := Evaluate(req(), []models.Policy{basePolicy()})
	assert.Equal(t, constants.DecisionDeny, res.Decision)
}

func TestEvaluatePrincipalPatternFiltering(t *testing.T) {
	p := basePolicy()
	p.Principals = []string{"*@example.com"}
	r := req("repos:read")
	r.Principal = "mallory@evil.test"
	res := Evaluate(r, []models.Policy{p})
	assert.Equal(t, constants.DecisionDeny, res.Decision)
	assert.Equal(t, "no applicable policy", res.Reason)
}

func TestEvaluateDeterministic(t *testing.T) {
	policies := []models.Policy{basePolicy()}
	r := req("repos:read", "repos:write", "admin:x", "unknown:y")
	first := Evaluate(r, policies)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate(r, policies))
	}
}
