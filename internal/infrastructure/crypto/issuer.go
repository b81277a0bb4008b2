package crypto

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// Issuer signs and verifies self-referential JWTs with a rotating key set.
// The key with the lowest ordinal is primary and signs new tokens; every
// configured key stays in the verification set so tokens signed before a
// rotation keep verifying until they naturally expire.
type Issuer struct {
	keys        []models.SigningKey // sorted ascending by ID; keys[0] is primary
	revocations service.RevocationStore
	audit       service.AuditService
	log         logger.Logger
}

var _ service.TokenIssuer = (*Issuer)(nil)

// NewIssuer builds an Issuer from a key source. The key list is loaded once;
// rotation is an explicit restart/reload event, never an implicit mutation.
func NewIssuer(ctx context.Context, source service.KeySource, revocations service.RevocationStore, audit service.AuditService, log logger.Logger) (*Issuer, error) {
	keys, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no signing keys configured")
	}
	for i := 1; i < len(keys); i++ {
		if keys[i].ID <= keys[i-1].ID {
			return nil, fmt.Errorf("signing keys must have strictly ascending ids")
		}
	}
	return &Issuer{
		keys:        keys,
		revocations: revocations,
		audit:       audit,
		log:         log.WithComponent("token-issuer"),
	}, nil
}

// Keys returns the configured key set, primary first. Key material is not
// serialized by the model's JSON shape.
func (i *Issuer) Keys() []models.SigningKey {
	out := make([]models.SigningKey, len(i.keys))
	copy(out, i.keys)
	return out
}

// Sign issues a token for the principal with the given scopes. The jti is the
// slip id, so revoking the slip and revoking the token share one identifier.
func (i *Issuer) Sign(ctx context.Context, principal string, scopes []string, slipID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    constants.TokenIssuerName,
			Subject:   principal,
			ID:        slipID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Principal: principal,
		Scopes:    append([]string(nil), scopes...),
		SlipID:    slipID,
	}

	primary := i.keys[0]
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = primary.KID()

	signed, err := token.SignedString(primary.Key)
	if err != nil {
		i.log.Error(ctx, "failed to sign token", err, logger.Fields{"slip_id": slipID})
		return "", errors.ErrInternal("sign token").WithCause(err)
	}
	return signed, nil
}

// Verify checks the revocation list first (a revoked jti fails regardless of
// signature validity), then attempts verification against every configured
// key. The key named by the token's kid header is tried first as a fast path,
// but a kid mismatch is not fatal: trying all keys is what keeps rotation
// robust to clock and config-propagation skew.
func (i *Issuer) Verify(ctx context.Context, tokenString string) (*models.Claims, error) {
	// Peek at the jti without trusting the signature yet; the revocation
	// check must run even for tokens we would otherwise accept.
	unverified := &models.Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	unverifiedToken, _, err := parser.ParseUnverified(tokenString, unverified)
	if err != nil {
		return nil, errors.ErrTokenVerificationFailed("malformed token").WithCause(err)
	}
	if unverified.ID != "" {
		revoked, rerr := i.revocations.IsRevoked(ctx, unverified.ID)
		if rerr != nil {
			return nil, errors.ErrInternal("revocation check").WithCause(rerr)
		}
		if revoked {
			return nil, errors.ErrTokenRevoked(unverified.ID)
		}
	}

	var lastErr error
	for _, key := range i.orderedForVerify(unverifiedToken) {
		claims := &models.Claims{}
		k := key
		parsed, perr := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(k.Key), nil
		})
		if perr == nil && parsed.Valid {
			return claims, nil
		}
		lastErr = perr
	}

	verr := errors.ErrTokenVerificationFailed(fmt.Sprintf("no configured key verifies the token (%d tried)", len(i.keys)))
	if lastErr != nil {
		verr = verr.WithCause(lastErr)
	}
	return nil, verr
}

// orderedForVerify returns the key set with the token's kid hint moved to the
// front when it names a configured key.
func (i *Issuer) orderedForVerify(token *jwt.Token) []models.SigningKey {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return i.keys
	}
	for idx, key := range i.keys {
		if key.KID() == kid {
			ordered := make([]models.SigningKey, 0, len(i.keys))
			ordered = append(ordered, i.keys[idx])
			ordered = append(ordered, i.keys[:idx]...)
			ordered = append(ordered, i.keys[idx+1:]...)
			return ordered
		}
	}
	return i.keys
}

// Revoke inserts the jti into the revocation list. Idempotent: revoking an
// already-revoked jti succeeds.
func (i *Issuer) Revoke(ctx context.Context, jti, reason string) error {
	err := i.revocations.Revoke(ctx, models.RevocationEntry{
		JTI:       jti,
		RevokedAt: time.Now().UTC(),
		Reason:    reason,
	})
	if err != nil {
		return errors.ErrInternal("record revocation").WithCause(err)
	}
	if i.audit != nil {
		i.audit.Record(ctx, models.NewAuditEvent(constants.AuditEventTokenRevoked, nil, reason))
	}
	return nil
}

// StartRevocationPurge launches the background purge of revocation entries
// older than the retention window. It stops when ctx is cancelled. Purging
// takes a brief exclusive section in the store; readers never block on it.
func (i *Issuer) StartRevocationPurge(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(constants.RevocationPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-constants.RevocationRetention)
				n, err := i.revocations.Purge(ctx, cutoff)
				if err != nil {
					i.log.Error(ctx, "revocation purge failed", err)
					continue
				}
				if n > 0 {
					i.log.Info(ctx, "purged revocation entries", logger.Fields{"count": n})
				}
			}
		}
	}()
}
