package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"investpay/internal/repository"
	"investpay/pkg/errors"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Store is the Postgres implementation of repository.Store. Units of work run
// at READ COMMITTED; correctness comes from row locks, guarded updates and
// unique keys rather than from the isolation level.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Repos() repository.Repos {
	return repos{q: s.db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(ctx, repos{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(err, "failed to commit transaction")
	}
	return nil
}

// repos binds every repository to the same executor, either the pool or an
// open transaction.
type repos struct {
	q sqlx.ExtContext
}

func (r repos) Orders() repository.OrderRepository {
	return &OrderRepository{q: r.q}
}

func (r repos) Wallets() repository.WalletRepository {
	return &WalletRepository{q: r.q}
}

func (r repos) Transactions() repository.TransactionRepository {
	return &TransactionRepository{q: r.q}
}

func (r repos) Referrals() repository.ReferralRepository {
	return &ReferralRepository{q: r.q}
}

// mapError turns contention failures into ErrStorageConflict so callers can
// retry the whole unit of work.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return errors.Wrap(errors.ErrStorageConflict, message)
		}
	}
	return errors.Wrap(err, message)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
