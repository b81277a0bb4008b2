package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/flow"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// githubProvider acquires GitHub access tokens through the device-code flow.
// It also accepts caller-supplied tokens, validated against the GitHub API
// before a slip is granted.
type githubProvider struct {
	name    string
	cfg     config.ProviderConfig
	machine *flow.Machine
	client  *http.Client
	log     logger.Logger
}

// NewGitHubProvider returns the provider for the "github" target.
func NewGitHubProvider(cfg config.ProviderConfig, machine *flow.Machine, log logger.Logger) service.AsyncProvider {
	return &githubProvider{
		name:    "github",
		cfg:     cfg,
		machine: machine,
		client:  &http.Client{Timeout: constants.ProviderHTTPTimeout},
		log:     log.WithComponent("provider.github"),
	}
}

func (p *githubProvider) Name() string { return p.name }

func (p *githubProvider) Supports() models.Capabilities {
	return models.Capabilities{OAuth: true, BYOC: true}
}

func (p *githubProvider) clientConfig() flow.ClientConfig {
	return flow.ClientConfig{
		ClientID:      p.cfg.ClientID,
		ClientSecret:  p.cfg.ClientSecret,
		DeviceAuthURL: p.cfg.DeviceAuthURL,
		TokenURL:      p.cfg.TokenURL,
	}
}

func (p *githubProvider) Provision(ctx context.Context, req *models.SlipRequest, slip *models.Slip) (*service.ProvisionResult, error) {
	if slip.ProvisioningMethod == constants.MethodBYOC {
		ok, err := p.Validate(ctx, req.Credential, req.Principal)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.ErrInvalidCredential("github rejected the supplied token")
		}
		token := models.NewIssuedToken(slip.ID, "oauth_access_token", req.Credential, "github:byoc")
		return &service.ProvisionResult{Slip: slip, Token: token}, nil
	}

	scopes := slip.GrantedScope
	if len(scopes) == 0 {
		scopes = p.cfg.DefaultScopes
	}
	_, instructions, err := p.machine.StartDevice(ctx, slip.ID, p.name, p.clientConfig(), scopes)
	if err != nil {
		return nil, err
	}
	return &service.ProvisionResult{Slip: slip, Instructions: instructions}, nil
}

func (p *githubProvider) CompleteFlow(ctx context.Context, slipID string) (string, error) {
	return p.machine.Complete(ctx, slipID, p.clientConfig())
}

func (p *githubProvider) ResolveCallback(_ context.Context, _, _, _ string) (string, string, error) {
	return "", "", errors.ErrInvalidRequest("github uses the device flow; it has no authorization callback")
}

// Validate probes the configured validation endpoint with the token. An empty
// validation URL degrades to a non-empty check.
func (p *githubProvider) Validate(ctx context.Context, credential, _ string) (bool, error) {
	if credential == "" {
		return false, nil
	}
	if p.cfg.ValidationURL == "" {
		return true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ValidationURL, nil)
	if err != nil {
		return false, errors.ErrInternal("build validation request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, constants.ErrCodeProviderError, "github validation probe failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, errors.ErrProvider("validation_failed", fmt.Sprintf("github validation returned status %d", resp.StatusCode))
	}
}

// Revoke abandons any pending flow. GitHub device tokens have no
// programmatic revocation endpoint usable with device-flow credentials, so
// the upstream grant must be removed by the principal.
func (p *githubProvider) Revoke(ctx context.Context, slip *models.Slip) error {
	if err := p.machine.Abandon(ctx, slip.ID); err != nil {
		return err
	}
	p.log.Warn(ctx, "github token requires manual revocation", logger.Fields{
		"slip_id":     slip.ID,
		"instruction": "revoke the OAuth app grant at https://github.com/settings/applications",
	})
	return nil
}
