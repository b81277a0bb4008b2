package crypto

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
)

// configKeySource loads signing keys from the numbered secrets in the issuer
// configuration. The lowest-numbered secret becomes the primary signing key.
type configKeySource struct {
	cfg *config.IssuerConfig
}

// NewConfigKeySource returns a KeySource backed by configuration.
func NewConfigKeySource(cfg *config.IssuerConfig) service.KeySource {
	return &configKeySource{cfg: cfg}
}

func (s *configKeySource) Load(_ context.Context) ([]models.SigningKey, error) {
	ids := s.cfg.OrderedKeyIDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("no signing keys configured")
	}
	now := time.Now().UTC()
	keys := make([]models.SigningKey, 0, len(ids))
	for _, id := range ids {
		secret := s.cfg.SigningKeys[id]
		if secret == "" {
			return nil, fmt.Errorf("signing key %d is empty", id)
		}
		keys = append(keys, models.SigningKey{ID: id, Key: []byte(secret), CreatedAt: now})
	}
	return keys, nil
}
