// ==============================================================================
// LEDGER SERVICE - internal/ledger/service.go
// ==============================================================================
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

type Service struct {
	store  repository.Store
	logger logger.Logger
	now    func() time.Time
}

func NewService(store repository.Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log, now: time.Now}
}

// Posting is a single ledger effect on one wallet. Amount is signed.
type Posting struct {
	OwnerID        uuid.UUID
	Kind           domain.TransactionKind
	Amount         int64
	OrderID        *uuid.UUID
	IdempotencyKey string
	Description    string
}

// PostTx records p and applies it to the owner's wallet inside the caller's
// unit of work. A posting whose key already exists is not applied again; the
// stored transaction is returned with applied=false.
func (s *Service) PostTx(ctx context.Context, repos repository.Repos, p Posting) (*domain.Transaction, bool, error) {
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return nil, false, errors.ErrIdempotencyKeyRequired
	}
	if p.Amount == 0 || !p.Kind.Valid() {
		return nil, false, errors.ErrInvalidAmount
	}

	now := s.now().UTC()
	if _, err := repos.Wallets().Ensure(ctx, p.OwnerID, now); err != nil {
		return nil, false, err
	}

	tx := &domain.Transaction{
		ID:             uuid.New(),
		OwnerID:        p.OwnerID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		OrderID:        p.OrderID,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
		CreatedAt:      now,
	}

	inserted, err := repos.Transactions().Insert(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := repos.Transactions().FindByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing.OwnerID != p.OwnerID || existing.Amount != p.Amount || existing.Kind != p.Kind {
			return nil, false, errors.ErrIdempotencyKeyReused
		}
		return existing, false, nil
	}

	if _, err := repos.Wallets().ApplyDelta(ctx, p.OwnerID, p.Amount, now); err != nil {
		return nil, false, err
	}

	s.logger.Debug("Ledger posting applied", map[string]interface{}{
		"owner_id":        p.OwnerID,
		"kind":            p.Kind,
		"amount":          p.Amount,
		"idempotency_key": p.IdempotencyKey,
	})
	return tx, true, nil
}

// Post runs PostTx in its own unit of work.
func (s *Service) Post(ctx context.Context, p Posting) (*domain.Transaction, bool, error) {
	var (
		tx      *domain.Transaction
		applied bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		var err error
		tx, applied, err = s.PostTx(ctx, repos, p)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return tx, applied, nil
}

// Withdraw debits amount from the owner's wallet, rejecting overdrafts.
func (s *Service) Withdraw(ctx context.Context, owner uuid.UUID, amount int64, key string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	tx, _, err := s.Post(ctx, Posting{
		OwnerID:        owner,
		Kind:           domain.TransactionKindWithdrawal,
		Amount:         -amount,
		IdempotencyKey: "withdrawal:" + key,
		Description:    "Withdrawal",
	})
	if err != nil {
		return nil, errors.Wrap(err, "withdrawal failed")
	}
	return tx, nil
}

// Adjust applies a signed administrative correction.
func (s *Service) Adjust(ctx context.Context, owner uuid.UUID, delta int64, key, reason string) (*domain.Transaction, error) {
	tx, _, err := s.Post(ctx, Posting{
		OwnerID:        owner,
		Kind:           domain.TransactionKindAdjustment,
		Amount:         delta,
		IdempotencyKey: "adjustment:" + key,
		Description:    reason,
	})
	if err != nil {
		return nil, errors.Wrap(err, "adjustment failed")
	}
	return tx, nil
}

// Balance returns the owner's wallet, creating an empty one on first access.
func (s *Service) Balance(ctx context.Context, owner uuid.UUID) (*domain.Wallet, error) {
	return s.store.Repos().Wallets().Ensure(ctx, owner, s.now().UTC())
}

// History returns a reverse-chronological page of the owner's transactions
// and the total count.
func (s *Service) History(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*domain.Transaction, int, error) {
	repos := s.store.Repos()
	txs, err := repos.Transactions().FindByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Transactions().CountByOwner(ctx, owner)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}
