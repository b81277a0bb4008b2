// Package service contains the application-layer orchestration. SlipLedger is
// the single entry point for the slip lifecycle: request, provisioning
// completion, callback resolution, listing, revocation and expiry cleanup.
package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/policy"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/internal/providers"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// Deps bundles the ledger's collaborators. Everything is injected; the ledger
// owns no process-global state.
type Deps struct {
	Slips     service.SlipStore
	Tokens    service.TokenStore
	Directory service.DirectoryStore
	Policies  service.PolicySource
	Providers *providers.Registry
	Vault     service.CredentialVault
	Audit     service.AuditService
	Logger    logger.Logger
}

// SlipLedger orchestrates the slip lifecycle. Safe for concurrent use;
// concurrent completions of the same slip are collapsed through singleflight
// so the provider sees one polling sequence.
type SlipLedger struct {
	slips       service.SlipStore
	tokens      service.TokenStore
	directory   service.DirectoryStore
	policies    service.PolicySource
	providers   *providers.Registry
	vault       service.CredentialVault
	audit       service.AuditService
	log         logger.Logger
	completions singleflight.Group
}

// NewSlipLedger wires a ledger from its dependencies.
func NewSlipLedger(d Deps) *SlipLedger {
	return &SlipLedger{
		slips:     d.Slips,
		tokens:    d.Tokens,
		directory: d.Directory,
		policies:  d.Policies,
		providers: d.Providers,
		vault:     d.Vault,
		audit:     d.Audit,
		log:       d.Logger.WithComponent("slip-ledger"),
	}
}

// RequestSlip runs the full request pipeline: target resolution, policy
// evaluation, provider provisioning and persistence. Nothing is persisted
// until provisioning has succeeded, so a rejected credential leaves no
// partial slip behind.
func (l *SlipLedger) RequestSlip(ctx context.Context, req *models.SlipRequest) (*models.SlipGrant, error) {
	target, err := l.directory.GetTarget(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if _, err := l.directory.EnsurePrincipal(ctx, req.Principal); err != nil {
		return nil, errors.ErrInternal("ensure principal").WithCause(err)
	}
	if _, err := l.directory.EnsureActor(ctx, req.Actor, string(req.ActorType)); err != nil {
		return nil, errors.ErrInternal("ensure actor").WithCause(err)
	}

	policies, err := l.policies.Policies(ctx)
	if err != nil {
		return nil, errors.ErrInternal("load policies").WithCause(err)
	}
	result := policy.Evaluate(policy.Request{
		Principal: req.Principal,
		Actor:     req.Actor,
		Target:    req.Target,
		Scope:     req.Scope,
		TTL:       req.TTL,
	}, policies)

	switch result.Decision {
	case constants.DecisionDeny:
		l.audit.Record(ctx, deniedEvent(req, result.Reason))
		return nil, errors.ErrPolicyDenied(result.Reason).WithMetadata("policy_id", result.PolicyID)
	case constants.DecisionManualApprove:
		// Manual approvals are not automated here; the request is refused with
		// the escalation reason so the caller can route it to an operator.
		l.audit.Record(ctx, deniedEvent(req, result.Reason))
		return nil, errors.ErrPolicyDenied(result.Reason).
			WithMetadata("policy_id", result.PolicyID).
			WithMetadata("decision", string(constants.DecisionManualApprove))
	}

	method, err := selectMethod(req, target)
	if err != nil {
		return nil, err
	}

	provider, err := l.providers.Get(req.Target)
	if err != nil {
		return nil, err
	}

	slip := models.NewSlip(req, method, result)
	pres, err := provider.Provision(ctx, req, slip)
	if err != nil {
		l.audit.Record(ctx, deniedEvent(req, "provisioning failed: "+err.Error()))
		return nil, err
	}

	if err := l.slips.Insert(ctx, slip); err != nil {
		return nil, errors.ErrInternal("persist slip").WithCause(err)
	}
	l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventSlipRequested, slip, result.Reason))

	grant := &models.SlipGrant{Slip: slip, Instructions: pres.Instructions}
	if pres.Token != nil {
		delivered, err := l.persistToken(ctx, slip, pres.Token)
		if err != nil {
			return nil, err
		}
		updated, err := l.slips.Update(ctx, slip.ID, func(s *models.Slip) error {
			s.TokenID = delivered.ID
			return nil
		})
		if err != nil {
			return nil, err
		}
		grant.Slip = updated
		grant.Token = delivered
		l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventSlipProvisioned, updated, string(method)))
	} else if pres.Instructions != "" {
		l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventFlowStarted, slip, pres.Instructions))
	}

	l.log.Info(ctx, "slip requested", logger.Fields{
		"slip_id":   slip.ID,
		"principal": slip.Principal,
		"target":    slip.Target,
		"method":    string(method),
		"decision":  string(result.Decision),
	})
	return grant, nil
}

// CompleteProvisioning finishes an asynchronous flow for a slip. Concurrent
// calls for the same slip share one provider interaction; exactly one token
// is minted per completed flow. Completing an already-completed slip returns
// the existing grant without re-contacting the provider.
func (l *SlipLedger) CompleteProvisioning(ctx context.Context, slipID string) (*models.SlipGrant, error) {
	v, err, _ := l.completions.Do(slipID, func() (interface{}, error) {
		return l.completeOnce(ctx, slipID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SlipGrant), nil
}

func (l *SlipLedger) completeOnce(ctx context.Context, slipID string) (*models.SlipGrant, error) {
	slip, err := l.slips.Get(ctx, slipID)
	if err != nil {
		return nil, err
	}
	if slip.Terminal() {
		return nil, errors.ErrInvalidRequest(fmt.Sprintf("slip %s is %s", slipID, slip.Status))
	}
	if slip.TokenID != "" {
		return l.existingGrant(ctx, slip)
	}

	provider, err := l.providers.Get(slip.Target)
	if err != nil {
		return nil, err
	}
	async, ok := provider.(service.AsyncProvider)
	if !ok {
		return nil, errors.ErrInvalidRequest(fmt.Sprintf("target %s provisions synchronously; there is no flow to complete", slip.Target))
	}

	secret, err := async.CompleteFlow(ctx, slipID)
	if err != nil {
		l.recordFlowFailure(ctx, slip, err)
		return nil, err
	}

	return l.finishProvisioning(ctx, slip, secret)
}

// HandleCallback resolves an authorization callback for PKCE targets. The
// pending flow is correlated by its state parameter; a replayed or forged
// state fails with FlowNotFound.
func (l *SlipLedger) HandleCallback(ctx context.Context, target, state, code, oauthErr string) (*models.SlipGrant, error) {
	provider, err := l.providers.Get(target)
	if err != nil {
		return nil, err
	}
	async, ok := provider.(service.AsyncProvider)
	if !ok {
		return nil, errors.ErrInvalidRequest(fmt.Sprintf("target %s has no callback endpoint", target))
	}

	slipID, secret, err := async.ResolveCallback(ctx, state, code, oauthErr)
	if err != nil {
		if slipID != "" {
			if slip, gerr := l.slips.Get(ctx, slipID); gerr == nil {
				l.recordFlowFailure(ctx, slip, err)
			}
		}
		return nil, err
	}

	slip, err := l.slips.Get(ctx, slipID)
	if err != nil {
		return nil, err
	}
	return l.finishProvisioning(ctx, slip, secret)
}

// finishProvisioning mints the token record for a completed flow and attaches
// it to the slip.
func (l *SlipLedger) finishProvisioning(ctx context.Context, slip *models.Slip, secret string) (*models.SlipGrant, error) {
	token := models.NewIssuedToken(slip.ID, "oauth_access_token", secret, slip.Target+":oauth")
	delivered, err := l.persistToken(ctx, slip, token)
	if err != nil {
		return nil, err
	}

	updated, err := l.slips.Update(ctx, slip.ID, func(s *models.Slip) error {
		if s.Terminal() {
			return errors.ErrInvalidRequest(fmt.Sprintf("slip %s is %s", s.ID, s.Status))
		}
		s.TokenID = delivered.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventFlowCompleted, updated, ""))
	l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventTokenIssued, updated, delivered.Reference))
	l.log.Info(ctx, "provisioning completed", logger.Fields{"slip_id": updated.ID, "target": updated.Target})

	return &models.SlipGrant{Slip: updated, Token: delivered}, nil
}

// persistToken stores the token record honoring the vault's at-rest and
// one-time-delivery settings, and returns the copy delivered to the caller
// with the plaintext still present.
func (l *SlipLedger) persistToken(ctx context.Context, slip *models.Slip, token *models.IssuedToken) (*models.IssuedToken, error) {
	stored := *token
	if l.vault.OneTimeDelivery() {
		stored.SecretHash = l.vault.Hash(token.Secret)
		stored.Secret = ""
		l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventCredentialDropped, slip, token.ID))
	} else if l.vault.EncryptAtRest() {
		ct, err := l.vault.Encrypt(token.Secret)
		if err != nil {
			return nil, errors.ErrInternal("encrypt token secret").WithCause(err)
		}
		stored.Secret = ct
	}
	if err := l.tokens.Insert(ctx, &stored); err != nil {
		return nil, errors.ErrInternal("persist token").WithCause(err)
	}

	delivered := *token
	delivered.SecretHash = stored.SecretHash
	return &delivered, nil
}

// existingGrant rebuilds the grant for an already-completed slip. Under
// one-time delivery the plaintext is gone for good, so the grant carries the
// token record without its secret.
func (l *SlipLedger) existingGrant(ctx context.Context, slip *models.Slip) (*models.SlipGrant, error) {
	token, err := l.tokens.Get(ctx, slip.TokenID)
	if err != nil {
		return nil, err
	}
	if token.Secret != "" && l.vault.IsEncrypted(token.Secret) {
		plain, derr := l.vault.Decrypt(token.Secret)
		if derr != nil {
			return nil, derr
		}
		token.Secret = plain
	}
	return &models.SlipGrant{Slip: slip, Token: token}, nil
}

// GetSlip fetches one slip by ID.
func (l *SlipLedger) GetSlip(ctx context.Context, id string) (*models.Slip, error) {
	return l.slips.Get(ctx, id)
}

// ListSlips returns slips matching the filter, newest first.
func (l *SlipLedger) ListSlips(ctx context.Context, filter models.SlipFilter) ([]*models.Slip, error) {
	return l.slips.List(ctx, filter)
}

// RevealToken returns the decrypted secret for a slip's token. Under one-time
// delivery the secret was dropped at issuance and can never be retrieved.
func (l *SlipLedger) RevealToken(ctx context.Context, slipID string) (*models.IssuedToken, error) {
	slip, err := l.slips.Get(ctx, slipID)
	if err != nil {
		return nil, err
	}
	if !slip.IsActive() {
		return nil, errors.ErrInvalidRequest(fmt.Sprintf("slip %s is not active", slipID))
	}
	if slip.TokenID == "" {
		return nil, errors.ErrNotFound("token for slip", slipID)
	}
	token, err := l.tokens.Get(ctx, slip.TokenID)
	if err != nil {
		return nil, err
	}
	if token.Secret == "" && token.SecretHash != "" {
		return nil, errors.ErrInvalidRequest("token was issued under one-time delivery; only its hash is retained")
	}
	if l.vault.IsEncrypted(token.Secret) {
		plain, derr := l.vault.Decrypt(token.Secret)
		if derr != nil {
			return nil, derr
		}
		token.Secret = plain
	}
	return token, nil
}

// RevokeSlip marks a slip revoked and performs best-effort provider-side
// cleanup. Idempotent: revoking a revoked slip succeeds without touching the
// provider again.
func (l *SlipLedger) RevokeSlip(ctx context.Context, slipID string) (*models.Slip, error) {
	already := false
	updated, err := l.slips.Update(ctx, slipID, func(s *models.Slip) error {
		if s.Status == constants.SlipStatusRevoked {
			already = true
			return nil
		}
		s.Status = constants.SlipStatusRevoked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return updated, nil
	}

	// Provider cleanup is best effort: an unreachable upstream must not leave
	// the ledger claiming the slip is still active.
	if provider, perr := l.providers.Get(updated.Target); perr == nil {
		if rerr := provider.Revoke(ctx, updated); rerr != nil {
			l.log.Warn(ctx, "provider-side revocation failed", logger.Fields{
				"slip_id": slipID,
				"target":  updated.Target,
				"error":   rerr.Error(),
			})
		}
	}

	l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventSlipRevoked, updated, ""))
	l.log.Info(ctx, "slip revoked", logger.Fields{"slip_id": slipID})
	return updated, nil
}

// CleanupExpiredSlips marks every active slip past its expiry as expired and
// returns the count. Expired slips are kept for listing; they are marked, not
// deleted.
func (l *SlipLedger) CleanupExpiredSlips(ctx context.Context) (int, error) {
	slips, err := l.slips.List(ctx, models.SlipFilter{})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range slips {
		if s.Status != constants.SlipStatusActive || !s.IsExpired() {
			continue
		}
		updated, uerr := l.slips.Update(ctx, s.ID, func(cur *models.Slip) error {
			if cur.Status != constants.SlipStatusActive || !cur.IsExpired() {
				return errors.ErrInvalidRequest("slip no longer eligible")
			}
			cur.Status = constants.SlipStatusExpired
			return nil
		})
		if uerr != nil {
			continue
		}
		n++
		l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventSlipExpired, updated, ""))
	}
	if n > 0 {
		l.log.Info(ctx, "expired slips cleaned up", logger.Fields{"count": n})
	}
	return n, nil
}

// StartExpiryLoop runs CleanupExpiredSlips on the given cadence until ctx is
// cancelled.
func (l *SlipLedger) StartExpiryLoop(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.CleanupExpiredSlips(ctx); err != nil {
					l.log.Error(ctx, "expiry cleanup failed", err)
				}
			}
		}
	}()
}

func (l *SlipLedger) recordFlowFailure(ctx context.Context, slip *models.Slip, cause error) {
	switch {
	case errors.IsCode(cause, constants.ErrCodeFlowExpired):
		l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventFlowExpired, slip, cause.Error()))
	case errors.IsCode(cause, constants.ErrCodeProviderError),
		errors.IsCode(cause, constants.ErrCodeAuthorizationTimedOut):
		l.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventFlowDenied, slip, cause.Error()))
	}
}

// selectMethod picks the provisioning method from the request shape and the
// target's capabilities. A supplied credential always means BYOC; it is never
// silently ignored.
func selectMethod(req *models.SlipRequest, target *models.Target) (constants.ProvisioningMethod, error) {
	if req.Credential != "" {
		if !target.Supports.BYOC {
			return "", errors.ErrInvalidRequest(fmt.Sprintf("target %s does not accept caller-supplied credentials", target.Name))
		}
		return constants.MethodBYOC, nil
	}
	switch {
	case target.Supports.OAuth:
		return constants.MethodOAuth, nil
	case target.Supports.Genesis:
		return constants.MethodGenesis, nil
	case target.Supports.BYOC:
		return "", errors.ErrInvalidCredential(fmt.Sprintf("target %s requires a caller-supplied credential", target.Name))
	default:
		return "", errors.ErrProviderNotConfigured(target.Name, "target supports no provisioning method")
	}
}

func deniedEvent(req *models.SlipRequest, reason string) models.AuditEvent {
	ev := models.NewAuditEvent(constants.AuditEventSlipDenied, nil, reason)
	ev.Principal = req.Principal
	ev.Actor = req.Actor
	ev.Target = req.Target
	return ev
}
