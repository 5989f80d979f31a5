package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

const walletColumns = `owner_id, balance, version, created_at, updated_at`

type WalletRepository struct {
	q sqlx.ExtContext
}

func (r *WalletRepository) Ensure(ctx context.Context, owner uuid.UUID, at time.Time) (*domain.Wallet, error) {
	query := `
		INSERT INTO payment_schema.wallets (owner_id, balance, version, created_at, updated_at)
		VALUES ($1, 0, 0, $2, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`
	if _, err := r.q.ExecContext(ctx, query, owner, at); err != nil {
		return nil, mapError(err, "failed to ensure wallet")
	}
	return r.FindByOwner(ctx, owner)
}

func (r *WalletRepository) FindByOwner(ctx context.Context, owner uuid.UUID) (*domain.Wallet, error) {
	wallet := &domain.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM payment_schema.wallets WHERE owner_id = $1`
	if err := sqlx.GetContext(ctx, r.q, wallet, query, owner); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrWalletNotFound
		}
		return nil, mapError(err, "failed to find wallet by owner")
	}
	return wallet, nil
}

func (r *WalletRepository) ApplyDelta(ctx context.Context, owner uuid.UUID, delta int64, at time.Time) (*domain.Wallet, error) {
	query := `
		UPDATE payment_schema.wallets SET
			balance = balance + $1,
			version = version + 1,
			updated_at = $2
		WHERE owner_id = $3 AND balance + $1 >= 0
		RETURNING ` + walletColumns

	wallet := &domain.Wallet{}
	err := sqlx.GetContext(ctx, r.q, wallet, query, delta, at, owner)
	if err == nil {
		return wallet, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err, "failed to apply wallet delta")
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS (SELECT 1 FROM payment_schema.wallets WHERE owner_id = $1)`, owner); err != nil {
		return nil, mapError(err, "failed to check wallet")
	}
	if !exists {
		return nil, errors.ErrWalletNotFound
	}
	return nil, errors.ErrInsufficientBalance
}

func (r *WalletRepository) FindAll(ctx context.Context, limit, offset int) ([]*domain.Wallet, error) {
	var wallets []*domain.Wallet
	query := `SELECT ` + walletColumns + ` FROM payment_schema.wallets ORDER BY created_at, owner_id LIMIT $1 OFFSET $2`
	if err := sqlx.SelectContext(ctx, r.q, &wallets, query, limit, offset); err != nil {
		return nil, mapError(err, "failed to find all wallets")
	}
	return wallets, nil
}
