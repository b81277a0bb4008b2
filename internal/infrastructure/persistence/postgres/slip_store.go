package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
)

const slipColumns = `id, actor, principal, target, requested_scope, granted_scope,
	issued_at, expires_at, provisioning_method, token_id,
	policy_decision, policy_id, policy_reason, status`

// slipStore is the PostgreSQL SlipStore. Update runs inside a transaction
// with a row lock, which gives the per-key critical section: concurrent
// updates to different slips touch different rows and never contend.
type slipStore struct {
	pool *pgxpool.Pool
}

// NewSlipStore returns a PostgreSQL-backed SlipStore.
func NewSlipStore(pool *pgxpool.Pool) service.SlipStore {
	return &slipStore{pool: pool}
}

func (s *slipStore) Insert(ctx context.Context, slip *models.Slip) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slips (`+slipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		slip.ID, slip.Actor, slip.Principal, slip.Target,
		slip.RequestedScope, slip.GrantedScope,
		slip.IssuedAt, slip.ExpiresAt, string(slip.ProvisioningMethod), nullable(slip.TokenID),
		string(slip.PolicyResult.Decision), nullable(slip.PolicyResult.PolicyID), slip.PolicyResult.Reason,
		string(slip.Status))
	if err != nil {
		return fmt.Errorf("insert slip: %w", err)
	}
	return nil
}

func (s *slipStore) Get(ctx context.Context, id string) (*models.Slip, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+slipColumns+` FROM slips WHERE id = $1`, id)
	slip, err := scanSlip(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound("slip", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get slip: %w", err)
	}
	return slip, nil
}

func (s *slipStore) Update(ctx context.Context, id string, fn func(*models.Slip) error) (*models.Slip, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+slipColumns+` FROM slips WHERE id = $1 FOR UPDATE`, id)
	slip, err := scanSlip(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound("slip", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock slip: %w", err)
	}

	if err := fn(slip); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE slips SET token_id = $2, status = $3, granted_scope = $4 WHERE id = $1`,
		id, nullable(slip.TokenID), string(slip.Status), slip.GrantedScope)
	if err != nil {
		return nil, fmt.Errorf("update slip: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return slip, nil
}

func (s *slipStore) List(ctx context.Context, filter models.SlipFilter) ([]*models.Slip, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Principal != "" {
		args = append(args, filter.Principal)
		conds = append(conds, fmt.Sprintf("principal = $%d", len(args)))
	}
	if filter.Target != "" {
		args = append(args, filter.Target)
		conds = append(conds, fmt.Sprintf("target = $%d", len(args)))
	}
	if filter.ActiveOnly {
		args = append(args, string(constants.SlipStatusActive), time.Now().UTC())
		conds = append(conds, fmt.Sprintf("status = $%d AND (expires_at IS NULL OR expires_at > $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + slipColumns + ` FROM slips`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY issued_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slips: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Slip, 0)
	for rows.Next() {
		slip, serr := scanSlip(rows)
		if serr != nil {
			return nil, fmt.Errorf("scan slip: %w", serr)
		}
		out = append(out, slip)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlip(row rowScanner) (*models.Slip, error) {
	var (
		slip     models.Slip
		method   string
		decision string
		status   string
		tokenID  *string
		policyID *string
	)
	err := row.Scan(
		&slip.ID, &slip.Actor, &slip.Principal, &slip.Target,
		&slip.RequestedScope, &slip.GrantedScope,
		&slip.IssuedAt, &slip.ExpiresAt, &method, &tokenID,
		&decision, &policyID, &slip.PolicyResult.Reason,
		&status)
	if err != nil {
		return nil, err
	}
	slip.ProvisioningMethod = constants.ProvisioningMethod(method)
	slip.PolicyResult.Decision = constants.Decision(decision)
	slip.Status = constants.SlipStatus(status)
	if tokenID != nil {
		slip.TokenID = *tokenID
	}
	if policyID != nil {
		slip.PolicyResult.PolicyID = *policyID
	}
	return &slip, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
