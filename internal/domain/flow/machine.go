// Package flow implements the generic provisioning state machine shared by
// every OAuth-capable provider: the RFC 8628 device-code flow and the RFC 7636
// PKCE authorization-code flow. The machine owns the PendingFlow records and
// enforces their lifecycle: at most one live flow per slip, deleted on
// success, expiry or terminal error.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// ClientConfig carries the OAuth client settings a provider hands to the
// machine. It mirrors the provider configuration without binding the domain
// package to the config package.
type ClientConfig struct {
	ClientID      string
	ClientSecret  string
	DeviceAuthURL string
	AuthorizeURL  string
	TokenURL      string
}

// Machine drives provisioning handshakes against external authorization
// servers. It is safe for concurrent use; all per-flow state lives in the
// injected FlowStore.
type Machine struct {
	flows  service.FlowStore
	client *http.Client
	log    logger.Logger
}

// NewMachine creates a Machine over the given flow store. Every outbound HTTP
// call is bounded by the provider timeout in addition to the caller's context.
func NewMachine(flows service.FlowStore, log logger.Logger) *Machine {
	return &Machine{
		flows:  flows,
		client: &http.Client{Timeout: constants.ProviderHTTPTimeout},
		log:    log.WithComponent("provisioning"),
	}
}

// NewMachineWithClient is like NewMachine with a caller-supplied HTTP client,
// used by tests to point at a fake authorization server.
func NewMachineWithClient(flows service.FlowStore, client *http.Client, log logger.Logger) *Machine {
	return &Machine{flows: flows, client: client, log: log.WithComponent("provisioning")}
}

// tokenResponse is the token-endpoint reply shape shared by both flows.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Complete advances the pending flow for a slip to a terminal state. For
// device flows this performs the bounded blocking poll and may legitimately
// take tens of seconds; the caller's context cancels it without leaking the
// loop. PKCE flows complete through HandleCallback instead, so Complete on a
// PKCE flow only reports its status.
func (m *Machine) Complete(ctx context.Context, slipID string, cc ClientConfig) (string, error) {
	pending, err := m.flows.GetBySlip(ctx, slipID)
	if err != nil {
		return "", errors.ErrInternal("flow lookup").WithCause(err)
	}
	if pending == nil {
		return "", errors.ErrFlowNotFound(slipID)
	}
	if pending.IsExpired() {
		// Expiry deletes the flow as a side effect; a second call reports
		// FlowNotFound.
		_ = m.flows.Delete(ctx, slipID)
		return "", errors.ErrFlowExpired(slipID)
	}

	switch pending.Protocol {
	case models.FlowProtocolDevice:
		return m.pollDevice(ctx, pending, cc)
	case models.FlowProtocolPKCE:
		return "", errors.ErrInvalidRequest("flow is awaiting the authorization callback; it cannot be completed by polling")
	default:
		return "", errors.ErrInternal(fmt.Sprintf("unknown flow protocol %q", pending.Protocol))
	}
}

// Abandon deletes any pending flow for the slip. Used when a slip is revoked
// while provisioning is still outstanding.
func (m *Machine) Abandon(ctx context.Context, slipID string) error {
	return m.flows.Delete(ctx, slipID)
}

// postForm issues a form-encoded POST and decodes the JSON reply. Both flows
// talk to their token endpoints this way.
func (m *Machine) postForm(ctx context.Context, endpoint string, form url.Values, basicUser, basicPass string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return &tr, nil
}

// postFormRaw is postForm for the device-authorization endpoint, whose reply
// shape differs from the token endpoint's.
func (m *Machine) postFormRaw(ctx context.Context, endpoint string, form url.Values) (*deviceAuthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var dr deviceAuthResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return &dr, nil
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
