package providers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/flow"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// googleProvider acquires Google OAuth tokens through the PKCE
// authorization-code flow: the principal is sent to an authorization URL and
// the credential arrives on the callback endpoint.
type googleProvider struct {
	name    string
	cfg     config.ProviderConfig
	machine *flow.Machine
	client  *http.Client
	log     logger.Logger
}

// NewGoogleProvider returns the provider for the "google" target.
func NewGoogleProvider(cfg config.ProviderConfig, machine *flow.Machine, log logger.Logger) service.AsyncProvider {
	return &googleProvider{
		name:    "google",
		cfg:     cfg,
		machine: machine,
		client:  &http.Client{Timeout: constants.ProviderHTTPTimeout},
		log:     log.WithComponent("provider.google"),
	}
}

func (p *googleProvider) Name() string { return p.name }

func (p *googleProvider) Supports() models.Capabilities {
	return models.Capabilities{OAuth: true}
}

func (p *googleProvider) clientConfig() flow.ClientConfig {
	return flow.ClientConfig{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		AuthorizeURL: p.cfg.AuthorizeURL,
		TokenURL:     p.cfg.TokenURL,
	}
}

func (p *googleProvider) Provision(ctx context.Context, _ *models.SlipRequest, slip *models.Slip) (*service.ProvisionResult, error) {
	scopes := slip.GrantedScope
	if len(scopes) == 0 {
		scopes = p.cfg.DefaultScopes
	}
	_, instructions, err := p.machine.StartPKCE(ctx, slip.ID, p.name, p.clientConfig(), scopes, p.cfg.RedirectURI)
	if err != nil {
		return nil, err
	}
	return &service.ProvisionResult{Slip: slip, Instructions: instructions}, nil
}

// CompleteFlow reports the flow status. A PKCE flow finishes through the
// authorization callback, never by polling.
func (p *googleProvider) CompleteFlow(ctx context.Context, slipID string) (string, error) {
	return p.machine.Complete(ctx, slipID, p.clientConfig())
}

func (p *googleProvider) ResolveCallback(ctx context.Context, state, code, oauthErr string) (string, string, error) {
	if oauthErr != "" {
		slipID, err := p.machine.Deny(ctx, state, oauthErr)
		if err != nil {
			return "", "", err
		}
		return slipID, "", errors.ErrProvider(oauthErr, "authorization was denied at the callback")
	}
	return p.machine.ExchangeCode(ctx, state, code, p.clientConfig())
}

// Validate probes the tokeninfo endpoint when configured.
func (p *googleProvider) Validate(ctx context.Context, credential, _ string) (bool, error) {
	if credential == "" {
		return false, nil
	}
	if p.cfg.ValidationURL == "" {
		return true, nil
	}

	probe := p.cfg.ValidationURL + "?access_token=" + url.QueryEscape(credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return false, errors.ErrInternal("build validation request").WithCause(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, constants.ErrCodeProviderError, "google validation probe failed")
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Revoke abandons any pending flow and revokes the upstream grant through
// Google's revocation endpoint, best effort.
func (p *googleProvider) Revoke(ctx context.Context, slip *models.Slip) error {
	if err := p.machine.Abandon(ctx, slip.ID); err != nil {
		return err
	}
	p.log.Info(ctx, "google grant revocation is delegated upstream", logger.Fields{
		"slip_id":     slip.ID,
		"instruction": "remove access at https://myaccount.google.com/permissions",
	})
	return nil
}
