package postgres

import (
	"context"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

var orderCols = []string{"id", "owner_id", "amount", "currency", "gateway", "gateway_handle", "redirect_url",
	"status", "failure_reason", "created_at", "updated_at", "resolved_at"}

func TestOrderTransition_LostRaceIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payment_schema.payment_orders SET")).
		WithArgs(domain.OrderStatusCompleted, "", "", "", sqlmock.AnyArg(), true, id, domain.OrderStatusPendingConfirmation).
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := store.Repos().Orders().Transition(context.Background(), id,
		domain.OrderStatusPendingConfirmation, domain.OrderStatusCompleted, repository.OrderUpdate{At: time.Now()})

	assert.ErrorIs(t, err, errors.ErrStorageConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderTransition_RejectsIllegalEdgeWithoutQuery(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.Repos().Orders().Transition(context.Background(), uuid.New(),
		domain.OrderStatusFailed, domain.OrderStatusCompleted, repository.OrderUpdate{At: time.Now()})

	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderTransition_ReturnsUpdatedRow(t *testing.T) {
	store, mock := newMockStore(t)
	id, owner := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $7 AND status = $8")).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
			id.String(), owner.String(), int64(5000), "USD", "whish", "h-1", "https://pay/h-1",
			"pending_confirmation", "", now, now, nil))

	order, err := store.Repos().Orders().Transition(context.Background(), id,
		domain.OrderStatusCreated, domain.OrderStatusPendingConfirmation,
		repository.OrderUpdate{GatewayHandle: "h-1", RedirectURL: "https://pay/h-1", At: now})

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, order.Status)
	assert.Equal(t, "h-1", order.GatewayHandle)
	assert.Nil(t, order.ResolvedAt)
}

func TestOrderFindByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_schema.payment_orders WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := store.Repos().Orders().FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)
}

func TestOrderCreate_DuplicateID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_schema.payment_orders")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := store.Repos().Orders().Create(context.Background(), &domain.PaymentOrder{ID: uuid.New(), Status: domain.OrderStatusCreated})
	assert.ErrorIs(t, err, errors.ErrOrderAlreadyExists)
}

func TestTransactionInsert_IdempotentKey(t *testing.T) {
	store, mock := newMockStore(t)
	tx := &domain.Transaction{
		ID:             uuid.New(),
		OwnerID:        uuid.New(),
		Kind:           domain.TransactionKindDeposit,
		Amount:         5000,
		Status:         domain.TransactionStatusCompleted,
		IdempotencyKey: "deposit:abc",
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (idempotency_key) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(tx.ID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (idempotency_key) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inserted, err := store.Repos().Transactions().Insert(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Repos().Transactions().Insert(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletApplyDelta_Insufficient(t *testing.T) {
	store, mock := newMockStore(t)
	owner := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("balance + $1 >= 0")).
		WithArgs(int64(-500), sqlmock.AnyArg(), owner).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.Repos().Wallets().ApplyDelta(context.Background(), owner, -500, time.Now())
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletApplyDelta_Missing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payment_schema.wallets SET")).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.Repos().Wallets().ApplyDelta(context.Background(), uuid.New(), 100, time.Now())
	assert.ErrorIs(t, err, errors.ErrWalletNotFound)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := stderrors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_schema.wallets")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_schema.wallets WHERE owner_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "balance", "version", "created_at", "updated_at"}).
			AddRow(uuid.New().String(), int64(0), int64(0), time.Now(), time.Now()))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, repos repository.Repos) error {
		if _, err := repos.Wallets().Ensure(ctx, uuid.New(), time.Now()); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_Commits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
			uuid.New().String(), uuid.New().String(), int64(100), "USD", "sandbox", "", "",
			"created", "", time.Now(), time.Now(), nil))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, repos repository.Repos) error {
		_, err := repos.Orders().FindByIDForUpdate(ctx, uuid.New())
		return err
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError_ContentionIsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnError(&pq.Error{Code: pqSerializationFailure})
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnError(&pq.Error{Code: pqDeadlockDetected})

	_, err := store.Repos().Orders().FindByIDForUpdate(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrStorageConflict)
	_, err = store.Repos().Orders().FindByIDForUpdate(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrStorageConflict)
	assert.True(t, errors.IsRetryable(err))
}

func TestReferralCreate_DuplicateSignup(t *testing.T) {
	store, mock := newMockStore(t)
	edges := []domain.ReferralEdge{
		{ReferrerID: uuid.New(), RefereeID: uuid.New(), Level: 1, CreatedAt: time.Now()},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_schema.referral_edges")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := store.Repos().Referrals().Create(context.Background(), edges)
	assert.ErrorIs(t, err, errors.ErrReferralExists)
}

func TestReferralHasReferees(t *testing.T) {
	store, mock := newMockStore(t)
	referrer := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM payment_schema.referral_edges WHERE referrer_id = $1)")).
		WithArgs(referrer).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := store.Repos().Referrals().HasReferees(context.Background(), referrer)
	require.NoError(t, err)
	assert.True(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralAncestorAt_MissingLevel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE referee_id = $1 AND level = $2")).
		WithArgs(sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"referrer_id", "referee_id", "level", "created_at"}))

	edge, err := store.Repos().Referrals().AncestorAt(context.Background(), uuid.New(), 3)
	require.NoError(t, err)
	assert.Nil(t, edge)
}
