package providers

import (
	"context"
	"time"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

// oboProvider mints credentials for the service's own API: genesis tokens
// signed by the token issuer. This is the only provider that can both create
// and fully revoke its credentials.
type oboProvider struct {
	name   string
	issuer service.TokenIssuer
	log    logger.Logger
}

// NewOBOProvider returns the self-referential provider.
func NewOBOProvider(issuer service.TokenIssuer, log logger.Logger) service.Provider {
	return &oboProvider{
		name:   "obo",
		issuer: issuer,
		log:    log.WithComponent("provider.obo"),
	}
}

func (p *oboProvider) Name() string { return p.name }

func (p *oboProvider) Supports() models.Capabilities {
	return models.Capabilities{Genesis: true}
}

func (p *oboProvider) Provision(ctx context.Context, req *models.SlipRequest, slip *models.Slip) (*service.ProvisionResult, error) {
	ttl := req.TTL
	if ttl <= 0 && slip.ExpiresAt != nil {
		ttl = time.Until(*slip.ExpiresAt)
	}

	signed, err := p.issuer.Sign(ctx, slip.Principal, slip.GrantedScope, slip.ID, ttl)
	if err != nil {
		return nil, errors.ErrInternal("sign genesis token").WithCause(err)
	}

	token := models.NewIssuedToken(slip.ID, "jwt", signed, "obo:genesis")
	return &service.ProvisionResult{Slip: slip, Token: token}, nil
}

// Validate verifies the JWT and binds it to the expected principal.
func (p *oboProvider) Validate(ctx context.Context, credential, principal string) (bool, error) {
	claims, err := p.issuer.Verify(ctx, credential)
	if err != nil {
		return false, nil
	}
	return principal == "" || claims.Principal == principal, nil
}

// Revoke adds the token's jti to the revocation list. Genesis tokens carry
// their slip ID as jti, so no token lookup is needed.
func (p *oboProvider) Revoke(ctx context.Context, slip *models.Slip) error {
	if err := p.issuer.Revoke(ctx, slip.ID, "slip revoked"); err != nil {
		return err
	}
	p.log.Info(ctx, "genesis token revoked", logger.Fields{"slip_id": slip.ID})
	return nil
}
