package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// openaiKeyPrefix is the shape check applied before any network probe.
const openaiKeyPrefix = "sk-"

// openaiProvider is bring-your-own-credential only: the caller supplies an
// API key in the request's credential field and the provider validates it
// before a slip is granted. There is no acquisition flow.
type openaiProvider struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
	log    logger.Logger
}

// NewOpenAIProvider returns the provider for the "openai" target.
func NewOpenAIProvider(cfg config.ProviderConfig, log logger.Logger) service.Provider {
	return &openaiProvider{
		name:   "openai",
		cfg:    cfg,
		client: &http.Client{Timeout: constants.ProviderHTTPTimeout},
		log:    log.WithComponent("provider.openai"),
	}
}

func (p *openaiProvider) Name() string { return p.name }

func (p *openaiProvider) Supports() models.Capabilities {
	return models.Capabilities{BYOC: true}
}

func (p *openaiProvider) Provision(ctx context.Context, req *models.SlipRequest, slip *models.Slip) (*service.ProvisionResult, error) {
	if req.Credential == "" {
		return nil, errors.ErrInvalidCredential("openai requires a caller-supplied API key")
	}
	ok, err := p.Validate(ctx, req.Credential, req.Principal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrInvalidCredential("openai rejected the supplied API key")
	}
	token := models.NewIssuedToken(slip.ID, "api_key", req.Credential, "openai:byoc")
	return &service.ProvisionResult{Slip: slip, Token: token}, nil
}

// Validate checks the key shape, then probes the configured endpoint.
func (p *openaiProvider) Validate(ctx context.Context, credential, _ string) (bool, error) {
	if !strings.HasPrefix(credential, openaiKeyPrefix) {
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

	resp, err := p.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, constants.ErrCodeProviderError, "openai validation probe failed")
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Revoke cannot reach the upstream key. The key belongs to the caller, so the
// slip revocation only severs the ledger's copy.
func (p *openaiProvider) Revoke(ctx context.Context, slip *models.Slip) error {
	p.log.Info(ctx, "openai key requires manual revocation", logger.Fields{
		"slip_id":     slip.ID,
		"instruction": "rotate the key at https://platform.openai.com/api-keys",
	})
	return nil
}
