// Package repository declares the storage contracts of the payment core.
// Implementations live in the postgres and memory subpackages.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"investpay/pkg/domain"
)

// Store opens units of work. Every ledger mutation of one reconcile call runs
// inside a single WithinTx callback; an error returned from fn rolls back all
// of it.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
	Repos() Repos
	Ping(ctx context.Context) error
}

type Repos interface {
	Orders() OrderRepository
	Wallets() WalletRepository
	Transactions() TransactionRepository
	Referrals() ReferralRepository
}

// OrderUpdate carries the columns set together with a status transition.
type OrderUpdate struct {
	GatewayHandle string
	RedirectURL   string
	FailureReason string
	At            time.Time
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.PaymentOrder) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error)
	// FindByIDForUpdate locks the row until the surrounding unit of work ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error)
	FindByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*domain.PaymentOrder, error)
	// Transition is a compare-and-swap on status. It returns ErrStorageConflict
	// when the order is no longer in from, and ErrInvalidTransition when
	// from -> to is not an edge of the order state machine.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, upd OrderUpdate) (*domain.PaymentOrder, error)
	FindStale(ctx context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]*domain.PaymentOrder, error)
}

type WalletRepository interface {
	// Ensure creates an empty wallet if none exists and returns the current row.
	Ensure(ctx context.Context, owner uuid.UUID, at time.Time) (*domain.Wallet, error)
	FindByOwner(ctx context.Context, owner uuid.UUID) (*domain.Wallet, error)
	// ApplyDelta adds delta to the balance in one guarded write. It returns
	// ErrInsufficientBalance when the result would be negative.
	ApplyDelta(ctx context.Context, owner uuid.UUID, delta int64, at time.Time) (*domain.Wallet, error)
	FindAll(ctx context.Context, limit, offset int) ([]*domain.Wallet, error)
}

type TransactionRepository interface {
	// Insert stores tx unless its idempotency key is already present, in which
	// case it reports false and leaves storage untouched.
	Insert(ctx context.Context, tx *domain.Transaction) (bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	FindByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*domain.Transaction, error)
	CountByOwner(ctx context.Context, owner uuid.UUID) (int, error)
	SumCompleted(ctx context.Context, owner uuid.UUID) (int64, error)
	SumByKind(ctx context.Context, owner uuid.UUID, kind domain.TransactionKind) (int64, error)
}

type ReferralRepository interface {
	// Create inserts all closure edges of one signup atomically. A referee that
	// already has edges yields ErrReferralExists.
	Create(ctx context.Context, edges []domain.ReferralEdge) error
	// AncestorAt returns the edge at level for referee, or nil when the chain
	// is shorter.
	AncestorAt(ctx context.Context, referee uuid.UUID, level int) (*domain.ReferralEdge, error)
	Ancestors(ctx context.Context, referee uuid.UUID) ([]domain.ReferralEdge, error)
	// HasReferees reports whether referrer appears as the ancestor of anyone.
	HasReferees(ctx context.Context, referrer uuid.UUID) (bool, error)
}
