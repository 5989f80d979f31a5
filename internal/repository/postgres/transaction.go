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

const transactionColumns = `id, owner_id, kind, amount, status, order_id, idempotency_key, description, created_at`

type TransactionRepository struct {
	q sqlx.ExtContext
}

// Insert relies on the unique idempotency_key index; a conflicting row is
// left as is and reported as not inserted.
func (r *TransactionRepository) Insert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	query := `
		INSERT INTO payment_schema.transactions (
			id, owner_id, kind, amount, status, order_id, idempotency_key, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`
	var id uuid.UUID
	err := sqlx.GetContext(ctx, r.q, &id, query,
		tx.ID, tx.OwnerID, tx.Kind, tx.Amount, tx.Status, tx.OrderID, tx.IdempotencyKey, tx.Description, tx.CreatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, mapError(err, "failed to insert transaction")
	}
	return true, nil
}

func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM payment_schema.transactions WHERE idempotency_key = $1`
	if err := sqlx.GetContext(ctx, r.q, tx, query, key); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, mapError(err, "failed to find transaction by idempotency key")
	}
	return tx, nil
}

func (r *TransactionRepository) FindByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM payment_schema.transactions
		WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	if err := sqlx.SelectContext(ctx, r.q, &txs, query, owner, limit, offset); err != nil {
		return nil, mapError(err, "failed to find transactions by owner")
	}
	return txs, nil
}

func (r *TransactionRepository) CountByOwner(ctx context.Context, owner uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM payment_schema.transactions WHERE owner_id = $1`
	err := sqlx.GetContext(ctx, r.q, &count, query, owner)
	return count, mapError(err, "failed to count transactions")
}

func (r *TransactionRepository) SumCompleted(ctx context.Context, owner uuid.UUID) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM payment_schema.transactions
		WHERE owner_id = $1 AND status = 'completed'`
	err := sqlx.GetContext(ctx, r.q, &sum, query, owner)
	return sum, mapError(err, "failed to sum completed transactions")
}

func (r *TransactionRepository) SumByKind(ctx context.Context, owner uuid.UUID, kind domain.TransactionKind) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM payment_schema.transactions
		WHERE owner_id = $1 AND kind = $2 AND status = 'completed'`
	err := sqlx.GetContext(ctx, r.q, &sum, query, owner, kind)
	return sum, mapError(err, "failed to sum transactions by kind")
}
