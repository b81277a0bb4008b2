package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/flow"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/infrastructure/crypto"
	"github.com/turtacn/obo/internal/infrastructure/persistence/memory"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

func newSlip(t *testing.T, target string, method constants.ProvisioningMethod, credential string) (*models.SlipRequest, *models.Slip) {
	t.Helper()
	req := &models.SlipRequest{
		Actor:      "agent-1",
		Principal:  "alice@example.com",
		Target:     target,
		Scope:      []string{"read"},
		TTL:        time.Hour,
		Credential: credential,
	}
	slip := models.NewSlip(req, method, models.PolicyResult{Decision: constants.DecisionAutoApprove})
	return req, slip
}

func TestRegistryResolvesByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewOpenAIProvider(config.ProviderConfig{}, logger.NewNoop()))

	p, err := reg.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = reg.Get("gitlab")
	assert.True(t, errors.IsCode(err, constants.ErrCodeProviderNotConfigured))

	assert.Equal(t, []string{"openai"}, reg.Names())
}

func TestOpenAIRequiresCredential(t *testing.T) {
	p := NewOpenAIProvider(config.ProviderConfig{}, logger.NewNoop())
	req, slip := newSlip(t, "openai", constants.MethodBYOC, "")

	_, err := p.Provision(context.Background(), req, slip)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidCredential))
}

func TestOpenAIRejectsMalformedKey(t *testing.T) {
	p := NewOpenAIProvider(config.ProviderConfig{}, logger.NewNoop())
	req, slip := newSlip(t, "openai", constants.MethodBYOC, "not-an-api-key")

	_, err := p.Provision(context.Background(), req, slip)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidCredential))
}

func TestOpenAIValidatesAgainstUpstream(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if gotAuth != "Bearer sk-valid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{ValidationURL: srv.URL}, logger.NewNoop())

	req, slip := newSlip(t, "openai", constants.MethodBYOC, "sk-valid")
	result, err := p.Provision(context.Background(), req, slip)
	require.NoError(t, err)
	require.NotNil(t, result.Token)
	assert.Equal(t, "sk-valid", result.Token.Secret)
	assert.Equal(t, "api_key", result.Token.Type)
	assert.Equal(t, slip.ID, result.Token.SlipID)

	req, slip = newSlip(t, "openai", constants.MethodBYOC, "sk-stale")
	_, err = p.Provision(context.Background(), req, slip)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidCredential))
}

func TestGitHubDeviceProvisionReturnsInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"device_code":      "dev-1",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         5,
		})
	}))
	defer srv.Close()

	flows := memory.NewFlowStore()
	machine := flow.NewMachineWithClient(flows, srv.Client(), logger.NewNoop())
	p := NewGitHubProvider(config.ProviderConfig{
		ClientID:      "client-1",
		DeviceAuthURL: srv.URL + "/device/code",
		TokenURL:      srv.URL + "/token",
	}, machine, logger.NewNoop())

	req, slip := newSlip(t, "github", constants.MethodOAuth, "")
	result, err := p.Provision(context.Background(), req, slip)
	require.NoError(t, err)
	assert.Nil(t, result.Token)
	assert.Contains(t, result.Instructions, "ABCD-EFGH")
	assert.Contains(t, result.Instructions, "https://github.com/login/device")

	pending, err := flows.GetBySlip(context.Background(), slip.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.FlowProtocolDevice, pending.Protocol)
}

func TestGitHubBYOCValidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer gho_live" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	machine := flow.NewMachineWithClient(memory.NewFlowStore(), srv.Client(), logger.NewNoop())
	p := NewGitHubProvider(config.ProviderConfig{ValidationURL: srv.URL}, machine, logger.NewNoop())

	req, slip := newSlip(t, "github", constants.MethodBYOC, "gho_live")
	result, err := p.Provision(context.Background(), req, slip)
	require.NoError(t, err)
	require.NotNil(t, result.Token)
	assert.Equal(t, "oauth_access_token", result.Token.Type)

	req, slip = newSlip(t, "github", constants.MethodBYOC, "gho_dead")
	_, err = p.Provision(context.Background(), req, slip)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidCredential))
}

func TestGitHubHasNoCallback(t *testing.T) {
	machine := flow.NewMachineWithClient(memory.NewFlowStore(), http.DefaultClient, logger.NewNoop())
	p := NewGitHubProvider(config.ProviderConfig{}, machine, logger.NewNoop())

	_, _, err := p.ResolveCallback(context.Background(), "state", "code", "")
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidRequest))
}

func TestGooglePKCEProvisionAndCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"access_token": "ya29.live"})
	}))
	defer srv.Close()

	flows := memory.NewFlowStore()
	machine := flow.NewMachineWithClient(flows, srv.Client(), logger.NewNoop())
	p := NewGoogleProvider(config.ProviderConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     srv.URL + "/token",
		RedirectURI:  "https://obo.example.test/v1/callback/google",
	}, machine, logger.NewNoop())

	req, slip := newSlip(t, "google", constants.MethodOAuth, "")
	result, err := p.Provision(context.Background(), req, slip)
	require.NoError(t, err)
	assert.Contains(t, result.Instructions, "accounts.google.com")

	pending, err := flows.GetBySlip(context.Background(), slip.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)

	slipID, token, err := p.ResolveCallback(context.Background(), pending.PKCE.State, "auth-code", "")
	require.NoError(t, err)
	assert.Equal(t, slip.ID, slipID)
	assert.Equal(t, "ya29.live", token)
}

func TestGoogleCallbackDenial(t *testing.T) {
	flows := memory.NewFlowStore()
	machine := flow.NewMachineWithClient(flows, http.DefaultClient, logger.NewNoop())
	p := NewGoogleProvider(config.ProviderConfig{
		ClientID:     "client-1",
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
	}, machine, logger.NewNoop())

	req, slip := newSlip(t, "google", constants.MethodOAuth, "")
	_, err := p.Provision(context.Background(), req, slip)
	require.NoError(t, err)
	pending, err := flows.GetBySlip(context.Background(), slip.ID)
	require.NoError(t, err)

	slipID, _, err := p.ResolveCallback(context.Background(), pending.PKCE.State, "", "access_denied")
	assert.Equal(t, slip.ID, slipID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodeProviderError))
	assert.Contains(t, err.Error(), "access_denied")
}

func TestOBOGenesisRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := crypto.NewConfigKeySource(&config.IssuerConfig{SigningKeys: map[int]string{1: "unit-test-signing-secret"}})
	issuer, err := crypto.NewIssuer(ctx, source, memory.NewRevocationStore(), nil, logger.NewNoop())
	require.NoError(t, err)

	p := NewOBOProvider(issuer, logger.NewNoop())
	assert.True(t, p.Supports().Genesis)

	req, slip := newSlip(t, "obo", constants.MethodGenesis, "")
	result, err := p.Provision(ctx, req, slip)
	require.NoError(t, err)
	require.NotNil(t, result.Token)
	assert.Equal(t, "jwt", result.Token.Type)

	claims, err := issuer.Verify(ctx, result.Token.Secret)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Principal)
	assert.Equal(t, slip.ID, claims.SlipID)

	ok, err := p.Validate(ctx, result.Token.Secret, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.Validate(ctx, result.Token.Secret, "mallory@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// Revocation severs the token through its jti.
	require.NoError(t, p.Revoke(ctx, slip))
	_, err = issuer.Verify(ctx, result.Token.Secret)
	assert.True(t, errors.IsCode(err, constants.ErrCodeTokenRevoked))
}
