package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
)

// policyStore is a PolicySource over a policies table. Pattern lists are
// text[] columns and max_ttl is stored in seconds.
type policyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore returns a PostgreSQL-backed PolicySource.
func NewPolicyStore(pool *pgxpool.Pool) service.PolicySource {
	return &policyStore{pool: pool}
}

func (s *policyStore) Policies(ctx context.Context) ([]models.Policy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, principals, actors, targets,
		       auto_approve, manual_approve, deny, max_ttl_seconds
		FROM policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	out := make([]models.Policy, 0)
	for rows.Next() {
		var (
			p          models.Policy
			ttlSeconds int64
		)
		err := rows.Scan(&p.ID, &p.Principals, &p.Actors, &p.Targets,
			&p.AutoApprove, &p.ManualApprove, &p.Deny, &ttlSeconds)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.MaxTTL = time.Duration(ttlSeconds) * time.Second
		out = append(out, p)
	}
	return out, rows.Err()
}

// Replace swaps the whole policy set inside one transaction.
func (s *policyStore) Replace(ctx context.Context, policies []models.Policy) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM policies`); err != nil {
		return fmt.Errorf("clear policies: %w", err)
	}
	for _, p := range policies {
		_, err := tx.Exec(ctx, `
			INSERT INTO policies (id, principals, actors, targets,
			                      auto_approve, manual_approve, deny, max_ttl_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.Principals, p.Actors, p.Targets,
			p.AutoApprove, p.ManualApprove, p.Deny, int64(p.MaxTTL/time.Second))
		if err != nil {
			return fmt.Errorf("insert policy %s: %w", p.ID, err)
		}
	}
	return tx.Commit(ctx)
}
