package flow

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
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

// tokenEndpoint fakes a PKCE-aware token endpoint that checks the verifier
// against the challenge captured at authorization time.
type tokenEndpoint struct {
	wantVerifier string
	wantCode     string
	lastForm     url.Values
	respond      map[string]interface{}
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	e.lastForm = r.PostForm
	w.Header().Set("Content-Type", "application/json")
	if e.respond != nil {
		json.NewEncoder(w).Encode(e.respond)
		return
	}
	if e.wantCode != "" && r.PostFormValue("code") != e.wantCode {
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	if e.wantVerifier != "" && r.PostFormValue("code_verifier") != e.wantVerifier {
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"access_token": "ya29.token", "token_type": "Bearer"})
}

func pkceClientConfig(tokenURL string) ClientConfig {
	return ClientConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthorizeURL: "https://accounts.example.test/o/oauth2/auth",
		TokenURL:     tokenURL,
	}
}

func TestStartPKCEStoresFlowAndBuildsURL(t *testing.T) {
	flows := memory.NewFlowStore()
	m := NewMachineWithClient(flows, http.DefaultClient, logger.NewNoop())

	pending, instructions, err := m.StartPKCE(context.Background(), "slip-1", "google",
		pkceClientConfig("https://oauth2.example.test/token"),
		[]string{"https://www.googleapis.com/auth/calendar.readonly"},
		"https://obo.example.test/v1/callback/google")
	require.NoError(t, err)

	require.Equal(t, models.FlowProtocolPKCE, pending.Protocol)
	require.NotNil(t, pending.PKCE)
	assert.NotEmpty(t, pending.PKCE.State)
	assert.NotEmpty(t, pending.PKCE.CodeVerifier)

	u, err := url.Parse(instructions[len("Visit "):])
	if err == nil && u.RawQuery == "" {
		t.Fatalf("expected authorization URL in instructions, got %q", instructions)
	}
	assert.Contains(t, instructions, "state="+url.QueryEscape(pending.PKCE.State))
	assert.Contains(t, instructions, "code_challenge_method=S256")
	sum := sha256.Sum256([]byte(pending.PKCE.CodeVerifier))
	assert.Contains(t, instructions, "code_challenge="+base64.RawURLEncoding.EncodeToString(sum[:]))

	// The verifier itself never appears in anything shown to the principal.
	assert.NotContains(t, instructions, pending.PKCE.CodeVerifier)

	stored, err := flows.GetBySlip(context.Background(), "slip-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, pending.PKCE.State, stored.PKCE.State)
}

func TestStartPKCERequiresClientConfig(t *testing.T) {
	m := NewMachineWithClient(memory.NewFlowStore(), http.DefaultClient, logger.NewNoop())
	cc := pkceClientConfig("https://oauth2.example.test/token")
	cc.AuthorizeURL = ""

	_, _, err := m.StartPKCE(context.Background(), "slip-1", "google", cc, nil, "")
	assert.True(t, errors.IsCode(err, constants.ErrCodeProviderNotConfigured))
}

func TestExchangeCodeClaimsFlowOnce(t *testing.T) {
	ep := &tokenEndpoint{wantCode: "auth-code-1"}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	flows := memory.NewFlowStore()
	m := NewMachineWithClient(flows, srv.Client(), logger.NewNoop())
	cc := pkceClientConfig(srv.URL)

	pending, _, err := m.StartPKCE(context.Background(), "slip-1", "google", cc, nil, "https://obo.example.test/cb")
	require.NoError(t, err)
	ep.wantVerifier = pending.PKCE.CodeVerifier

	slipID, token, err := m.ExchangeCode(context.Background(), pending.PKCE.State, "auth-code-1", cc)
	require.NoError(t, err)
	assert.Equal(t, "slip-1", slipID)
	assert.Equal(t, "ya29.token", token)
	assert.Equal(t, "authorization_code", ep.lastForm.Get("grant_type"))
	assert.Equal(t, pending.PKCE.CodeVerifier, ep.lastForm.Get("code_verifier"))
	assert.Equal(t, "https://obo.example.test/cb", ep.lastForm.Get("redirect_uri"))

	// Replayed callback: the flow was already claimed.
	_, _, err = m.ExchangeCode(context.Background(), pending.PKCE.State, "auth-code-1", cc)
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}

func TestExchangeCodeUnknownState(t *testing.T) {
	m := NewMachineWithClient(memory.NewFlowStore(), http.DefaultClient, logger.NewNoop())

	_, _, err := m.ExchangeCode(context.Background(), "no-such-state", "code", pkceClientConfig("https://oauth2.example.test/token"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowNotFound))
}

func TestExchangeCodeExpiredFlow(t *testing.T) {
	flows := memory.NewFlowStore()
	m := NewMachineWithClient(flows, http.DefaultClient, logger.NewNoop())

	stale := models.NewPKCEFlow("slip-1", "google", models.PKCEFlowState{
		State:        "stale-state",
		CodeVerifier: "v",
	}, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, flows.Put(context.Background(), stale))

	_, _, err := m.ExchangeCode(context.Background(), "stale-state", "code", pkceClientConfig("https://oauth2.example.test/token"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeFlowExpired))
}

func TestExchangeCodeProviderDenial(t *testing.T) {
	ep := &tokenEndpoint{respond: map[string]interface{}{"error": "invalid_grant", "error_description": "code expired"}}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	flows := memory.NewFlowStore()
	m := NewMachineWithClient(flows, srv.Client(), logger.NewNoop())
	cc := pkceClientConfig(srv.URL)

	pending, _, err := m.StartPKCE(context.Background(), "slip-1", "google", cc, nil, "")
	require.NoError(t, err)

	slipID, _, err := m.ExchangeCode(context.Background(), pending.PKCE.State, "bad-code", cc)
	assert.Equal(t, "slip-1", slipID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodeProviderError))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestDenyClaimsFlow(t *testing.T) {
	flows := memory.NewFlowStore()
	m := NewMachineWithClient(flows, http.DefaultClient, logger.NewNoop())

	pending, _, err := m.StartPKCE(context.Background(), "slip-1", "google",
		pkceClientConfig("https://oauth2.example.test/token"), nil, "")
	require.NoError(t, err)

	slipID, err := m.Deny(context.Background(), pending.PKCE.State, "access_denied")
	require.NoError(t, err)
	assert.Equal(t, "slip-1", slipID)

	stored, err := flows.GetBySlip(context.Background(), "slip-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestFlowSingletonPerSlip(t *testing.T) {
	flows := memory.NewFlowStore()
	m := NewMachineWithClient(flows, http.DefaultClient, logger.NewNoop())
	cc := pkceClientConfig("https://oauth2.example.test/token")

	first, _, err := m.StartPKCE(context.Background(), "slip-1", "google", cc, nil, "")
	require.NoError(t, err)
	second, _, err := m.StartPKCE(context.Background(), "slip-1", "google", cc, nil, "")
	require.NoError(t, err)

	// Restarting replaced the flow; the first state no longer resolves.
	taken, err := flows.TakeByState(context.Background(), first.PKCE.State)
	require.NoError(t, err)
	assert.Nil(t, taken)

	stored, err := flows.TakeByState(context.Background(), second.PKCE.State)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "slip-1", stored.SlipID)
}
