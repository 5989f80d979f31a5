package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investpay/internal/repository/memory"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.New()
	return NewService(store, logger.NewNop()), store
}

func TestPost_IdempotentByKey(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := uuid.New()
	p := Posting{OwnerID: owner, Kind: domain.TransactionKindDeposit, Amount: 5000, IdempotencyKey: "deposit:o-1"}

	first, applied, err := svc.Post(ctx, p)
	require.NoError(t, err)
	assert.True(t, applied)

	second, applied, err := svc.Post(ctx, p)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first.ID, second.ID)

	w, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), w.Balance)
}

func TestPost_KeyReusedWithDifferentPayload(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	_, _, err := svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindSystem, Amount: 10, IdempotencyKey: "k"})
	require.NoError(t, err)

	_, _, err = svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindSystem, Amount: 11, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, errors.ErrIdempotencyKeyReused)
}

func TestPost_RejectsInvalidPostings(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.Post(ctx, Posting{OwnerID: uuid.New(), Kind: domain.TransactionKindSystem, Amount: 10})
	assert.ErrorIs(t, err, errors.ErrIdempotencyKeyRequired)

	_, _, err = svc.Post(ctx, Posting{OwnerID: uuid.New(), Kind: domain.TransactionKindSystem, IdempotencyKey: "z"})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestWithdraw_InsufficientLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	_, _, err := svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindDeposit, Amount: 300, IdempotencyKey: "d1"})
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, owner, 301, "w1")
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	txs, total, err := svc.History(ctx, owner, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, txs, 1)

	tx, err := svc.Withdraw(ctx, owner, 300, "w2")
	require.NoError(t, err)
	assert.Equal(t, int64(-300), tx.Amount)

	_, err = svc.Withdraw(ctx, owner, 0, "w3")
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestHistory_NewestFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, key := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, _, err := svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindSystem, Amount: int64(i + 1), IdempotencyKey: key})
		require.NoError(t, err)
	}

	txs, total, err := svc.History(ctx, owner, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, txs, 2)
	assert.Equal(t, "c", txs[0].IdempotencyKey)
	assert.Equal(t, "b", txs[1].IdempotencyKey)
}

func TestAudit_BalanceMatchesCompletedSum(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	_, _, err := svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindDeposit, Amount: 1000, IdempotencyKey: "d"})
	require.NoError(t, err)
	_, _, err = svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindCommission, Amount: 160, IdempotencyKey: "c"})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, owner, -60, "fix-1", "correction")
	require.NoError(t, err)

	report, err := svc.Audit(ctx, owner)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(1100), report.Balance)

	summary, err := svc.AuditAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Wallets)
	assert.Equal(t, int64(1100), summary.Liabilities)
	assert.Empty(t, summary.Mismatched)
}

func TestAudit_DetectsDrift(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	owner := uuid.New()

	_, _, err := svc.Post(ctx, Posting{OwnerID: owner, Kind: domain.TransactionKindDeposit, Amount: 100, IdempotencyKey: "d"})
	require.NoError(t, err)
	// write behind the ledger's back
	_, err = store.Repos().Wallets().ApplyDelta(ctx, owner, 5, time.Now())
	require.NoError(t, err)

	summary, err := svc.AuditAll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, summary.Mismatched, 1)
	assert.Equal(t, int64(5), summary.Mismatched[0].Difference)
}
