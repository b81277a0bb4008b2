package flow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/infrastructure/persistence/memory"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

func newTestMachine(t *testing.T) (*Machine, *httptest.Server, *authServer) {
	t.Helper()
	as := &authServer{interval: 0}
	srv := httptest.NewServer(as)
	t.Cleanup(srv.Close)
	m := NewMachineWithClient(memory.NewFlowStore(), srv.Client(), logger.NewNoop())
	return m, srv, as
}

// authServer is a minimal RFC 8628 authorization server. Its token endpoint
// replays the scripted responses in order, then repeats the last one.
type authServer struct {
	interval  int
	responses []map[string]interface{}
	calls     atomic.Int64
}

func (a *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/device/code":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"device_code":      "dev-123",
			"user_code":        "WDJB-MJHT",
			"verification_uri": "https://example.test/activate",
			"expires_in":       900,
			"interval":         a.interval,
		})
	case "/token":
		n := int(a.calls.Add(1)) - 1
		if n >= len(a.responses) {
			n = len(a.responses) - 1
		}
		json.NewEncoder(w).Encode(a.responses[n])
	default:
		http.NotFound(w, r)
	}
}

func testClientConfig(base string) ClientConfig {
	return ClientConfig{
		ClientID:      "client-1",
		DeviceAuthURL: base + "/device/code",
		TokenURL:      base + "/token",
	}
}

// putFastFlow stores a device flow polling at millisecond cadence so tests
// finish quickly.
func putFastFlow(t *testing.T, m *Machine, slipID string) *models.PendingFlow {
	t.Helper()
	pending := models.NewDeviceFlow(slipID, "github", models.DeviceFlowState{
		DeviceCode: "dev-123",
		UserCode:   "WDJB-MJHT",
	}, time.Millisecond, time.Now().UTC().Add(time.Minute))
	pending.PollInterval = time.Millisecond
	require.NoError(t, m.flows.Put(context.Background(), pending))
	return pending
}

func TestStartDeviceStoresFlowAndInstructions(t *testing.T) {
	m, srv, _ := newTestMachine(t)

	pending, instructions, err := m.StartDevice(context.Background(), "slip-1", "github", testClientConfig(srv.URL), []string{"repo:read"})
	require.NoError(t, err)

	assert.Equal(t, models.FlowProtocolDevice, pending.Protocol)
	assert.Equal(t, "dev-123", pending.Device.DeviceCode)
	assert.Equal(t, constants.DefaultPollInterval, pending.PollInterval)
	assert.Contains(t, instructions, "https://example.test/activate")
	assert.Contains(t, instructions, "WDJB-MJHT")

	stored, err := m.flows.GetBySlip(context.Background(), "slip-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "github", stored.Target)
}

func TestStartDeviceRequiresClientConfig(t *testing.T) {
	m, srv, _ := newTestMachine(t)
	cc := testClientConfig(srv.URL)
	cc.ClientID = ""

	_, _, err := m.StartDevice(context.Background(), "slip-1", "github", cc, nil)
	assert.True(t, errors.IsCode(err, constants.ErrCodeProviderNotConfigured))
}

func TestCompletePendingThenGranted(t *testing.T) {
	m, srv, as := newTestMachine(t)
	as.responses = []map[string]interface{}{
		{"error": "authorization_pending"},
		{"error": "authorization_pending"},
		{"access_token": "gho_abc", "token_type": "bearer"},
	}
	putFastFlow(t, m, "slip-1")

	token, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", token)
	assert.EqualValues(t, 3, as.calls.Load())

	// The granted flow is consumed; a second completion finds nothing.
	_, err = m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}

func TestCompleteSlowDownDoublesInterval(t *testing.T) {
	m, srv, as := newTestMachine(t)
	as.responses = []map[string]interface{}{
		{"error": "slow_down"},
		{"access_token": "gho_abc"},
	}
	pending := putFastFlow(t, m, "slip-1")
	pending.PollInterval = 30 * time.Millisecond
	require.NoError(t, m.flows.Put(context.Background(), pending))

	start := time.Now()
	token, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", token)
	// slow_down doubled the 30ms interval, so the single wait was at least 60ms.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestCompleteAccessDeniedIsTerminal(t *testing.T) {
	m, srv, as := newTestMachine(t)
	as.responses = []map[string]interface{}{
		{"error": "access_denied", "error_description": "user declined"},
	}
	putFastFlow(t, m, "slip-1")

	_, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodeProviderError))
	assert.Contains(t, err.Error(), "access_denied")

	// Terminal errors delete the flow.
	_, err = m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}

func TestCompleteExpiredTokenMapsToFlowExpired(t *testing.T) {
	m, srv, as := newTestMachine(t)
	as.responses = []map[string]interface{}{
		{"error": "expired_token"},
	}
	putFastFlow(t, m, "slip-1")

	_, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowExpired))
}

func TestCompleteExpiredFlowDeletesOnFirstObservation(t *testing.T) {
	m, srv, _ := newTestMachine(t)
	pending := models.NewDeviceFlow("slip-1", "github", models.DeviceFlowState{DeviceCode: "dev-123"},
		time.Millisecond, time.Now().UTC().Add(-time.Second))
	require.NoError(t, m.flows.Put(context.Background(), pending))

	_, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowExpired))

	_, err = m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}

func TestCompleteExhaustsAttempts(t *testing.T) {
	m, srv, as := newTestMachine(t)
	as.responses = []map[string]interface{}{
		{"error": "authorization_pending"},
	}
	putFastFlow(t, m, "slip-1")

	_, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodeAuthorizationTimedOut))
	assert.EqualValues(t, constants.MaxPollAttempts, as.calls.Load())

	_, err = m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}

func TestCompleteContextCancelPreservesFlow(t *testing.T) {
	m, srv, as := newTestMachine(t)
	as.responses = []map[string]interface{}{
		{"error": "authorization_pending"},
	}
	pending := putFastFlow(t, m, "slip-1")
	pending.PollInterval = time.Second
	require.NoError(t, m.flows.Put(context.Background(), pending))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Complete(ctx, "slip-1", testClientConfig(srv.URL))
	require.Error(t, err)

	// Cancellation is not terminal; the flow survives for a later retry.
	stored, gerr := m.flows.GetBySlip(context.Background(), "slip-1")
	require.NoError(t, gerr)
	assert.NotNil(t, stored)
}

func TestAbandonRemovesFlow(t *testing.T) {
	m, srv, _ := newTestMachine(t)
	putFastFlow(t, m, "slip-1")

	require.NoError(t, m.Abandon(context.Background(), "slip-1"))
	_, err := m.Complete(context.Background(), "slip-1", testClientConfig(srv.URL))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}
