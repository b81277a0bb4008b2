package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/pkg/constants"
)

// Request is the slice of a slip request that policy evaluation sees.
type Request struct {
	Principal string
	Actor     string
	Target    string
	Scope     []string
	TTL       time.Duration
}

// Evaluate decides auto_approve, manual_approve or deny for a request against
// a policy set. It is a pure function of (request, policies): no I/O, fully
// deterministic, never panics.
//
// The algorithm, in order:
//
//  1. Keep only policies whose principal, actor and target pattern lists all
//     match the request.
//  2. No applicable policy means deny.
//  3. A requested TTL above any applicable policy's MaxTTL means deny,
//     independent of scope checks.
//  4. Each requested scope token is classified against the union of all
//     applicable policies. Deny patterns take absolute precedence; one denied
//     scope dooms the whole request. A scope matching no pattern at all is
//     implicitly denied. Default-closed, but a policy-authoring footgun:
//     an auto-approve list that forgets a scope
//     silently denies it rather than escalating to manual approval.
//  5. No denied scope but at least one scope matching only manual-approve
//     downgrades the whole request to manual_approve.
//  6. Only when every scope matches an auto-approve pattern is the request
//     auto_approve.
//
// The tie-break deny > manual > auto applies to the whole scope set, not per
// scope.
func Evaluate(req Request, policies []models.Policy) models.PolicyResult {
	applicable := applicablePolicies(req, policies)
	if len(applicable) == 0 {
		return models.PolicyResult{
			Decision: constants.DecisionDeny,
			Reason:   "no applicable policy",
		}
	}

	// TTL cap: any applicable policy with a max below the requested TTL denies
	// the request before scopes are considered.
	if req.TTL > 0 {
		for _, p := range applicable {
			if p.MaxTTL > 0 && req.TTL > p.MaxTTL {
				return models.PolicyResult{
					Decision: constants.DecisionDeny,
					PolicyID: p.ID,
					Reason:   fmt.Sprintf("TTL %s exceeds policy max %s", req.TTL, p.MaxTTL),
				}
			}
		}
	}

	var denied, manualOnly, unmatched []string
	autoCount := 0
	for _, scope := range req.Scope {
		class := classifyScope(scope, applicable)
		switch class {
		case scopeDenied:
			denied = append(denied, scope)
		case scopeManual:
			manualOnly = append(manualOnly, scope)
		case scopeAuto:
			autoCount++
		case scopeUnmatched:
			unmatched = append(unmatched, scope)
		}
	}

	policyID := firstPolicyID(applicable)

	if len(denied) > 0 {
		sort.Strings(denied)
		return models.PolicyResult{
			Decision: constants.DecisionDeny,
			PolicyID: policyID,
			Reason:   "scope denied by policy: " + strings.Join(denied, ", "),
		}
	}
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		return models.PolicyResult{
			Decision: constants.DecisionDeny,
			PolicyID: policyID,
			Reason:   "scope matched no policy pattern: " + strings.Join(unmatched, ", "),
		}
	}
	if len(manualOnly) > 0 {
		sort.Strings(manualOnly)
		return models.PolicyResult{
			Decision: constants.DecisionManualApprove,
			PolicyID: policyID,
			Reason:   "scope requires manual approval: " + strings.Join(manualOnly, ", "),
		}
	}
	if autoCount == len(req.Scope) && len(req.Scope) > 0 {
		return models.PolicyResult{
			Decision: constants.DecisionAutoApprove,
			PolicyID: policyID,
			Reason:   "all requested scopes auto-approved",
		}
	}

	// An empty scope set grants nothing; treat it as malformed and default
	// closed.
	return models.PolicyResult{
		Decision: constants.DecisionDeny,
		PolicyID: policyID,
		Reason:   "empty scope set",
	}
}

type scopeClass int

const (
	scopeUnmatched scopeClass = iota
	scopeAuto
	scopeManual
	scopeDenied
)

// classifyScope resolves one scope token against the union of all applicable
// policies. Deny dominates; a scope on any deny list is denied regardless of
// what other policies allow. Manual dominates auto.
func classifyScope(scope string, policies []models.Policy) scopeClass {
	class := scopeUnmatched
	for _, p := range policies {
		if MatchAny(scope, p.Deny) {
			return scopeDenied
		}
		if MatchAny(scope, p.ManualApprove) {
			if class < scopeManual {
				class = scopeManual
			}
			continue
		}
		if MatchAny(scope, p.AutoApprove) && class < scopeAuto {
			class = scopeAuto
		}
	}
	// scopeManual ranks above scopeAuto in the enum so the max wins: a scope
	// matching manual in one policy and auto in another requires manual
	// approval.
	return class
}

// applicablePolicies filters policies whose principal, actor and target
// pattern lists all match the request.
func applicablePolicies(req Request, policies []models.Policy) []models.Policy {
	out := make([]models.Policy, 0, len(policies))
	for _, p := range policies {
		if !MatchAny(req.Principal, p.Principals) {
			continue
		}
		if !MatchAny(req.Actor, p.Actors) {
			continue
		}
		if !MatchAny(req.Target, p.Targets) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func firstPolicyID(policies []models.Policy) string {
	if len(policies) == 0 {
		return ""
	}
	return policies[0].ID
}
