// Package kms provides an optional HashiCorp Vault backed signing-key source.
// When enabled it replaces the config-file key source so key material never
// lives in the service configuration.
package kms

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/logger"
)

// vaultKeySource reads signing keys from a Vault KV v2 secret whose data maps
// "key-<n>" to the key secret. The lowest n is the primary signing key.
type vaultKeySource struct {
	client    *vault.Client
	mountPath string
	keyPath   string
	log       logger.Logger
}

// NewVaultKeySource connects to Vault and returns a KeySource reading from
// the configured mount and path.
func NewVaultKeySource(cfg *config.VaultConfig, log logger.Logger) (service.KeySource, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &vaultKeySource{
		client:    client,
		mountPath: cfg.MountPath,
		keyPath:   cfg.KeyPath,
		log:       log.WithComponent("vault-key-source"),
	}, nil
}

func (s *vaultKeySource) Load(ctx context.Context) ([]models.SigningKey, error) {
	secret, err := s.client.KVv2(s.mountPath).Get(ctx, s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing keys from vault: %w", err)
	}
	if secret == nil || len(secret.Data) == 0 {
		return nil, fmt.Errorf("vault secret %s/%s is empty", s.mountPath, s.keyPath)
	}

	now := time.Now().UTC()
	keys := make([]models.SigningKey, 0, len(secret.Data))
	for name, raw := range secret.Data {
		id, ok := parseKeyOrdinal(name)
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			return nil, fmt.Errorf("vault signing key %s is not a non-empty string", name)
		}
		keys = append(keys, models.SigningKey{ID: id, Key: []byte(value), CreatedAt: now})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("vault secret %s/%s holds no key-<n> entries", s.mountPath, s.keyPath)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	s.log.Info(ctx, "loaded signing keys from vault", logger.Fields{"count": len(keys)})
	return keys, nil
}

func parseKeyOrdinal(name string) (int, bool) {
	const prefix = "key-"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, false
	}
	return id, true
}
