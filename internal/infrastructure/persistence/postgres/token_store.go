package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/errors"
)

// tokenStore persists issued token records. Secrets arrive already encrypted
// (or dropped) by the vault; this layer never sees plaintext under
// encrypt-at-rest.
type tokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore returns a PostgreSQL-backed TokenStore.
func NewTokenStore(pool *pgxpool.Pool) service.TokenStore {
	return &tokenStore{pool: pool}
}

func (s *tokenStore) Insert(ctx context.Context, token *models.IssuedToken) error {
	meta, err := json.Marshal(token.Metadata)
	if err != nil {
		return fmt.Errorf("encode token metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO issued_tokens (id, slip_id, type, secret, secret_hash, reference, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID, token.SlipID, token.Type, token.Secret, token.SecretHash,
		token.Reference, meta, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *tokenStore) Get(ctx context.Context, id string) (*models.IssuedToken, error) {
	return s.get(ctx, `WHERE id = $1`, id)
}

func (s *tokenStore) GetBySlip(ctx context.Context, slipID string) (*models.IssuedToken, error) {
	return s.get(ctx, `WHERE slip_id = $1 ORDER BY created_at DESC LIMIT 1`, slipID)
}

func (s *tokenStore) get(ctx context.Context, where string, arg interface{}) (*models.IssuedToken, error) {
	var (
		token models.IssuedToken
		meta  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, slip_id, type, secret, secret_hash, reference, metadata, created_at
		FROM issued_tokens `+where, arg).
		Scan(&token.ID, &token.SlipID, &token.Type, &token.Secret, &token.SecretHash,
			&token.Reference, &meta, &token.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound("token", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &token.Metadata); err != nil {
			return nil, fmt.Errorf("decode token metadata: %w", err)
		}
	}
	return &token, nil
}
