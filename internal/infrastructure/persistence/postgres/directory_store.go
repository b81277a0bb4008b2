package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
)

const (
	targetCacheTTL     = 5 * time.Minute
	targetCacheCleanup = 10 * time.Minute
)

// directoryStore persists principals, actors and targets. Targets are
// read-mostly reference data and get a short in-process cache in front of the
// database.
type directoryStore struct {
	pool  *pgxpool.Pool
	cache *gocache.Cache
}

// NewDirectoryStore returns a PostgreSQL-backed DirectoryStore.
func NewDirectoryStore(pool *pgxpool.Pool) service.DirectoryStore {
	return &directoryStore{
		pool:  pool,
		cache: gocache.New(targetCacheTTL, targetCacheCleanup),
	}
}

func (s *directoryStore) EnsurePrincipal(ctx context.Context, id string) (*models.Principal, error) {
	var p models.Principal
	err := s.pool.QueryRow(ctx, `
		INSERT INTO principals (id, created_at) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, created_at`,
		id, time.Now().UTC()).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure principal: %w", err)
	}
	return &p, nil
}

func (s *directoryStore) EnsureActor(ctx context.Context, id string, actorType string) (*models.Actor, error) {
	if actorType == "" {
		actorType = string(constants.ActorTypeAgent)
	}
	var (
		a models.Actor
		t string
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO actors (id, type, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, type, created_at`,
		id, actorType, time.Now().UTC()).Scan(&a.ID, &t, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure actor: %w", err)
	}
	a.Type = constants.ActorType(t)
	return &a, nil
}

func (s *directoryStore) GetTarget(ctx context.Context, name string) (*models.Target, error) {
	if cached, ok := s.cache.Get(name); ok {
		t := cached.(models.Target)
		return &t, nil
	}

	var (
		t       models.Target
		caps    []byte
		tagsRaw []string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT name, supports, tags FROM targets WHERE name = $1`, name).
		Scan(&t.Name, &caps, &tagsRaw)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrUnknownTarget(name)
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	if err := json.Unmarshal(caps, &t.Supports); err != nil {
		return nil, fmt.Errorf("decode target capabilities: %w", err)
	}
	t.Tags = tagsRaw

	s.cache.Set(name, t, gocache.DefaultExpiration)
	return &t, nil
}

func (s *directoryStore) PutTarget(ctx context.Context, target *models.Target) error {
	caps, err := json.Marshal(target.Supports)
	if err != nil {
		return fmt.Errorf("encode target capabilities: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO targets (name, supports, tags) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET supports = EXCLUDED.supports, tags = EXCLUDED.tags`,
		target.Name, caps, target.Tags)
	if err != nil {
		return fmt.Errorf("put target: %w", err)
	}
	s.cache.Delete(target.Name)
	return nil
}
