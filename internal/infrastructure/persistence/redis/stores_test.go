package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/obo/internal/domain/models"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func deviceFlow(slipID string) *models.PendingFlow {
	return models.NewDeviceFlow(slipID, "github", models.DeviceFlowState{
		DeviceCode: "dev-1",
		UserCode:   "ABCD-EFGH",
	}, time.Second, time.Now().UTC().Add(10*time.Minute))
}

func pkceFlow(slipID, state string) *models.PendingFlow {
	return models.NewPKCEFlow(slipID, "google", models.PKCEFlowState{
		State:        state,
		CodeVerifier: "verifier",
	}, time.Now().UTC().Add(10*time.Minute))
}

func TestFlowStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFlowStore(newTestClient(t))

	require.NoError(t, store.Put(ctx, deviceFlow("slip-1")))

	got, err := store.GetBySlip(ctx, "slip-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.FlowProtocolDevice, got.Protocol)
	assert.Equal(t, "dev-1", got.Device.DeviceCode)

	missing, err := store.GetBySlip(ctx, "slip-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFlowStoreTakeBySlipIsSingleShot(t *testing.T) {
	ctx := context.Background()
	store := NewFlowStore(newTestClient(t))

	require.NoError(t, store.Put(ctx, deviceFlow("slip-1")))

	first, err := store.TakeBySlip(ctx, "slip-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.TakeBySlip(ctx, "slip-1")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestFlowStoreTakeByState(t *testing.T) {
	ctx := context.Background()
	store := NewFlowStore(newTestClient(t))

	require.NoError(t, store.Put(ctx, pkceFlow("slip-1", "state-abc")))

	got, err := store.TakeByState(ctx, "state-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "slip-1", got.SlipID)

	// Claimed: both lookups now miss.
	replay, err := store.TakeByState(ctx, "state-abc")
	require.NoError(t, err)
	assert.Nil(t, replay)
	bySlip, err := store.GetBySlip(ctx, "slip-1")
	require.NoError(t, err)
	assert.Nil(t, bySlip)
}

func TestFlowStorePutReplacesFlow(t *testing.T) {
	ctx := context.Background()
	store := NewFlowStore(newTestClient(t))

	require.NoError(t, store.Put(ctx, pkceFlow("slip-1", "state-old")))
	require.NoError(t, store.Put(ctx, pkceFlow("slip-1", "state-new")))

	stale, err := store.TakeByState(ctx, "state-old")
	require.NoError(t, err)
	assert.Nil(t, stale)

	current, err := store.TakeByState(ctx, "state-new")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "slip-1", current.SlipID)
}

func TestFlowStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewFlowStore(newTestClient(t))

	require.NoError(t, store.Put(ctx, pkceFlow("slip-1", "state-abc")))
	require.NoError(t, store.Delete(ctx, "slip-1"))

	got, err := store.GetBySlip(ctx, "slip-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a missing flow is a no-op.
	require.NoError(t, store.Delete(ctx, "slip-1"))
}

func TestRevocationStoreFirstRevocationWins(t *testing.T) {
	ctx := context.Background()
	store := NewRevocationStore(newTestClient(t))

	early := models.RevocationEntry{JTI: "jti-1", RevokedAt: time.Now().UTC(), Reason: "first"}
	late := models.RevocationEntry{JTI: "jti-1", RevokedAt: time.Now().UTC().Add(time.Hour), Reason: "second"}

	require.NoError(t, store.Revoke(ctx, early))
	require.NoError(t, store.Revoke(ctx, late))

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	clean, err := store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestRevocationStorePurge(t *testing.T) {
	ctx := context.Background()
	store := NewRevocationStore(newTestClient(t))

	old := models.RevocationEntry{JTI: "jti-old", RevokedAt: time.Now().UTC().Add(-10 * 24 * time.Hour)}
	fresh := models.RevocationEntry{JTI: "jti-fresh", RevokedAt: time.Now().UTC()}
	require.NoError(t, store.Revoke(ctx, old))
	require.NoError(t, store.Revoke(ctx, fresh))

	n, err := store.Purge(ctx, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stillRevoked, err := store.IsRevoked(ctx, "jti-fresh")
	require.NoError(t, err)
	assert.True(t, stillRevoked)
	purged, err := store.IsRevoked(ctx, "jti-old")
	require.NoError(t, err)
	assert.False(t, purged)
}
