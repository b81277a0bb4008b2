package crypto

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/infrastructure/persistence/memory"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

func newTestIssuer(t *testing.T, keys map[int]string) *Issuer {
	t.Helper()
	source := NewConfigKeySource(&config.IssuerConfig{SigningKeys: keys})
	issuer, err := NewIssuer(context.Background(), source, memory.NewRevocationStore(), nil, logger.NewNoop())
	require.NoError(t, err)
	return issuer
}

func TestIssuerRequiresKeys(t *testing.T) {
	source := NewConfigKeySource(&config.IssuerConfig{})
	_, err := NewIssuer(context.Background(), source, memory.NewRevocationStore(), nil, logger.NewNoop())
	assert.Error(t, err)
}

func TestIssuerSignAndVerify(t *testing.T) {
	issuer := newTestIssuer(t, map[int]string{1: "secret-one"})
	ctx := context.Background()

	token, err := issuer.Sign(ctx, "alice@example.com", []string{"read", "write"}, "slip-123", time.Hour)
	require.NoError(t, err)

	claims, err := issuer.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Principal)
	assert.Equal(t, []string{"read", "write"}, claims.Scopes)
	assert.Equal(t, "slip-123", claims.SlipID)
	assert.Equal(t, "slip-123", claims.ID, "jti mirrors the slip id")
	assert.Equal(t, constants.TokenIssuerName, claims.Issuer)
}

func TestIssuerLowestKeySigns(t *testing.T) {
	issuer := newTestIssuer(t, map[int]string{3: "third", 1: "first", 2: "second"})
	ctx := context.Background()

	token, err := issuer.Sign(ctx, "p", nil, "slip-1", time.Hour)
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &models.Claims{})
	require.NoError(t, err)
	assert.Equal(t, "key-1", parsed.Header["kid"])
}

func TestIssuerVerifiesAcrossRotation(t *testing.T) {
	ctx := context.Background()

	// A token signed when key 1 was primary.
	old := newTestIssuer(t, map[int]string{1: "retiring-key"})
	token, err := old.Sign(ctx, "p", nil, "slip-old", time.Hour)
	require.NoError(t, err)

	// After rotation key 0 signs, but key 1 stays in the verification set.
	rotated := newTestIssuer(t, map[int]string{0: "fresh-key", 1: "retiring-key"})
	claims, err := rotated.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "slip-old", claims.SlipID)
}

func TestIssuerRejectsUnknownKey(t *testing.T) {
	ctx := context.Background()

	other := newTestIssuer(t, map[int]string{1: "somebody-else"})
	token, err := other.Sign(ctx, "p", nil, "slip-x", time.Hour)
	require.NoError(t, err)

	issuer := newTestIssuer(t, map[int]string{1: "our-key"})
	_, err = issuer.Verify(ctx, token)
	assert.True(t, errors.IsCode(err, constants.ErrCodeTokenVerificationFailed))
}

func TestIssuerRejectsMalformedToken(t *testing.T) {
	issuer := newTestIssuer(t, map[int]string{1: "k"})
	_, err := issuer.Verify(context.Background(), "not.a.jwt")
	assert.True(t, errors.IsCode(err, constants.ErrCodeTokenVerificationFailed))
}

func TestIssuerRejectsExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t, map[int]string{1: "k"})
	ctx := context.Background()

	token, err := issuer.Sign(ctx, "p", nil, "slip-exp", -time.Minute)
	require.NoError(t, err)

	_, err = issuer.Verify(ctx, token)
	assert.True(t, errors.IsCode(err, constants.ErrCodeTokenVerificationFailed))
}

func TestIssuerRevocationWinsOverValidSignature(t *testing.T) {
	issuer := newTestIssuer(t, map[int]string{1: "k"})
	ctx := context.Background()

	token, err := issuer.Sign(ctx, "p", nil, "slip-revoked", time.Hour)
	require.NoError(t, err)
	require.NoError(t, issuer.Revoke(ctx, "slip-revoked", "operator request"))

	_, err = issuer.Verify(ctx, token)
	assert.True(t, errors.IsCode(err, constants.ErrCodeTokenRevoked))

	// Idempotent.
	assert.NoError(t, issuer.Revoke(ctx, "slip-revoked", "again"))
}

func TestIssuerKeysHideMaterialFromJSON(t *testing.T) {
	issuer := newTestIssuer(t, map[int]string{1: "hidden-material"})

	keys := issuer.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "key-1", keys[0].KID())
}
