package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

func TestWithinTx_RestoresSnapshotOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	owner := uuid.New()
	now := time.Now()

	_, err := store.Repos().Wallets().Ensure(ctx, owner, now)
	require.NoError(t, err)

	boom := stderrors.New("boom")
	err = store.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		if _, err := repos.Wallets().ApplyDelta(ctx, owner, 700, now); err != nil {
			return err
		}
		if _, err := repos.Transactions().Insert(ctx, &domain.Transaction{
			ID: uuid.New(), OwnerID: owner, Amount: 700, IdempotencyKey: "k1",
			Status: domain.TransactionStatusCompleted,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := store.Repos().Wallets().FindByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, w.Balance)
	_, err = store.Repos().Transactions().FindByIdempotencyKey(ctx, "k1")
	assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
}

func TestInsert_DuplicateKeyIsNoop(t *testing.T) {
	store := New()
	ctx := context.Background()
	tx := &domain.Transaction{ID: uuid.New(), OwnerID: uuid.New(), Amount: 10, IdempotencyKey: "deposit:x"}

	ok, err := store.Repos().Transactions().Insert(ctx, tx)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *tx
	dup.ID = uuid.New()
	dup.Amount = 99
	ok, err = store.Repos().Transactions().Insert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Repos().Transactions().FindByIdempotencyKey(ctx, "deposit:x")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Amount)
}

func TestApplyDelta_GuardsBalance(t *testing.T) {
	store := New()
	ctx := context.Background()
	owner := uuid.New()

	_, err := store.Repos().Wallets().ApplyDelta(ctx, owner, 5, time.Now())
	assert.ErrorIs(t, err, errors.ErrWalletNotFound)

	_, _ = store.Repos().Wallets().Ensure(ctx, owner, time.Now())
	w, err := store.Repos().Wallets().ApplyDelta(ctx, owner, 50, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Balance)
	assert.Equal(t, int64(1), w.Version)

	_, err = store.Repos().Wallets().ApplyDelta(ctx, owner, -51, time.Now())
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
}

func TestTransition_CompareAndSwap(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()
	order := &domain.PaymentOrder{ID: uuid.New(), Status: domain.OrderStatusCreated, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Repos().Orders().Create(ctx, order))

	updated, err := store.Repos().Orders().Transition(ctx, order.ID, domain.OrderStatusCreated,
		domain.OrderStatusPendingConfirmation, repository.OrderUpdate{GatewayHandle: "h", At: now.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "h", updated.GatewayHandle)

	_, err = store.Repos().Orders().Transition(ctx, order.ID, domain.OrderStatusCreated,
		domain.OrderStatusPendingConfirmation, repository.OrderUpdate{At: now})
	assert.ErrorIs(t, err, errors.ErrStorageConflict)

	// completed is only reachable from pending confirmation
	_, err = store.Repos().Orders().Transition(ctx, order.ID, domain.OrderStatusCreated,
		domain.OrderStatusCompleted, repository.OrderUpdate{At: now})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	// returned values are copies
	updated.Status = domain.OrderStatusFailed
	fresh, err := store.Repos().Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, fresh.Status)
}

func TestFindStale(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()
	old := &domain.PaymentOrder{ID: uuid.New(), Status: domain.OrderStatusPendingConfirmation, UpdatedAt: now.Add(-time.Hour)}
	fresh := &domain.PaymentOrder{ID: uuid.New(), Status: domain.OrderStatusPendingConfirmation, UpdatedAt: now}
	done := &domain.PaymentOrder{ID: uuid.New(), Status: domain.OrderStatusCompleted, UpdatedAt: now.Add(-time.Hour)}
	for _, o := range []*domain.PaymentOrder{old, fresh, done} {
		require.NoError(t, store.Repos().Orders().Create(ctx, o))
	}

	stale, err := store.Repos().Orders().FindStale(ctx,
		[]domain.OrderStatus{domain.OrderStatusPendingConfirmation}, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestReferralEdges(t *testing.T) {
	store := New()
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, store.Repos().Referrals().Create(ctx, []domain.ReferralEdge{
		{ReferrerID: b, RefereeID: c, Level: 1},
		{ReferrerID: a, RefereeID: c, Level: 2},
	}))
	err := store.Repos().Referrals().Create(ctx, []domain.ReferralEdge{{ReferrerID: a, RefereeID: c, Level: 1}})
	assert.ErrorIs(t, err, errors.ErrReferralExists)

	edge, err := store.Repos().Referrals().AncestorAt(ctx, c, 2)
	require.NoError(t, err)
	assert.Equal(t, a, edge.ReferrerID)

	edge, err = store.Repos().Referrals().AncestorAt(ctx, c, 3)
	require.NoError(t, err)
	assert.Nil(t, edge)

	all, err := store.Repos().Referrals().Ancestors(ctx, c)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].ReferrerID)

	has, err := store.Repos().Referrals().HasReferees(ctx, a)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = store.Repos().Referrals().HasReferees(ctx, c)
	require.NoError(t, err)
	assert.False(t, has)
}
