package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

const referralColumns = `referrer_id, referee_id, level, created_at`

type ReferralRepository struct {
	q sqlx.ExtContext
}

func (r *ReferralRepository) Create(ctx context.Context, edges []domain.ReferralEdge) error {
	if len(edges) == 0 {
		return nil
	}
	query := `
		INSERT INTO payment_schema.referral_edges (referrer_id, referee_id, level, created_at)
		VALUES (:referrer_id, :referee_id, :level, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, edges); err != nil {
		if isUniqueViolation(err) {
			return errors.ErrReferralExists
		}
		return mapError(err, "failed to create referral edges")
	}
	return nil
}

func (r *ReferralRepository) AncestorAt(ctx context.Context, referee uuid.UUID, level int) (*domain.ReferralEdge, error) {
	edge := &domain.ReferralEdge{}
	query := `SELECT ` + referralColumns + ` FROM payment_schema.referral_edges WHERE referee_id = $1 AND level = $2`
	if err := sqlx.GetContext(ctx, r.q, edge, query, referee, level); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "failed to find referral ancestor")
	}
	return edge, nil
}

func (r *ReferralRepository) Ancestors(ctx context.Context, referee uuid.UUID) ([]domain.ReferralEdge, error) {
	var edges []domain.ReferralEdge
	query := `SELECT ` + referralColumns + ` FROM payment_schema.referral_edges WHERE referee_id = $1 ORDER BY level`
	if err := sqlx.SelectContext(ctx, r.q, &edges, query, referee); err != nil {
		return nil, mapError(err, "failed to find referral ancestors")
	}
	return edges, nil
}

func (r *ReferralRepository) HasReferees(ctx context.Context, referrer uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payment_schema.referral_edges WHERE referrer_id = $1)`
	if err := sqlx.GetContext(ctx, r.q, &exists, query, referrer); err != nil {
		return false, mapError(err, "failed to check referees")
	}
	return exists, nil
}
