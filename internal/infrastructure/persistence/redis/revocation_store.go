package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
)

const revokedPrefix = "obo:revoked:"

// revocationStore keeps one key per revoked jti with a TTL equal to the
// retention window, so Redis expiry does most of the purging on its own. The
// explicit Purge remains for operators who shorten the window.
type revocationStore struct {
	client *redis.Client
}

// NewRevocationStore returns a Redis-backed RevocationStore.
func NewRevocationStore(client *redis.Client) service.RevocationStore {
	return &revocationStore{client: client}
}

func (s *revocationStore) Revoke(ctx context.Context, entry models.RevocationEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal revocation: %w", err)
	}
	// NX keeps the first revocation timestamp on repeated revocations.
	return s.client.SetNX(ctx, revokedPrefix+entry.JTI, raw, constants.RevocationRetention).Err()
}

func (s *revocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return n > 0, nil
}

func (s *revocationStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor uint64
		purged int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, revokedPrefix+"*", 200).Result()
		if err != nil {
			return purged, fmt.Errorf("scan revocations: %w", err)
		}
		for _, key := range keys {
			raw, gerr := s.client.Get(ctx, key).Bytes()
			if gerr != nil {
				continue
			}
			var entry models.RevocationEntry
			if json.Unmarshal(raw, &entry) != nil {
				continue
			}
			if entry.RevokedAt.Before(cutoff) {
				if s.client.Del(ctx, key).Err() == nil {
					purged++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}
