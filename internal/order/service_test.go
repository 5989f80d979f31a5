package order

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"investpay/internal/commission"
	"investpay/internal/gateway"
	"investpay/internal/gateway/sandbox"
	"investpay/internal/ledger"
	"investpay/internal/metrics"
	"investpay/internal/reconcile"
	"investpay/internal/repository/memory"
	"investpay/pkg/config"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

const callbackSecret = "whsec_test"

// MockGateway is a mock implementation of gateway.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "mockpay" }

func (m *MockGateway) CreatePayment(ctx context.Context, order *domain.PaymentOrder) (*gateway.Checkout, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Checkout), args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, order *domain.PaymentOrder) (domain.Outcome, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(domain.Outcome), args.Error(1)
}

func (m *MockGateway) VerifyCallback(payload []byte, headers http.Header) (*gateway.Callback, error) {
	args := m.Called(payload, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Callback), args.Error(1)
}

type testEnv struct {
	svc     *Service
	store   *memory.Store
	ledger  *ledger.Service
	sandbox *sandbox.Gateway
	mockGW  *MockGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	log := logger.NewNop()
	m := metrics.New()
	ledgerSvc := ledger.NewService(store, log)
	dist := commission.NewDistributor(store, ledgerSvc,
		[]decimal.Decimal{decimal.NewFromInt(16), decimal.NewFromInt(8), decimal.NewFromInt(4)}, log)
	engine := reconcile.NewEngine(store, ledgerSvc, dist, m, log, reconcile.Options{
		OrderExpiry: 30 * time.Minute,
		MaxAttempts: 3,
		BackOff:     func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})

	sbx := sandbox.New(callbackSecret, "http://sandbox.local")
	mockGW := new(MockGateway)
	svc := NewService(store, gateway.NewRegistry(sbx, mockGW), engine, m, log, config.PaymentConfig{
		MinDeposit:  120,
		MaxDeposit:  100_000_000,
		Currency:    "USD",
		OrderExpiry: 30 * time.Minute,
	}, RetryPolicy{MaxTries: 3, Interval: time.Millisecond})

	return &testEnv{svc: svc, store: store, ledger: ledgerSvc, sandbox: sbx, mockGW: mockGW}
}

func (e *testEnv) balance(t *testing.T, owner uuid.UUID) int64 {
	t.Helper()
	w, err := e.ledger.Balance(context.Background(), owner)
	require.NoError(t, err)
	return w.Balance
}

func (e *testEnv) staleOrder(t *testing.T, status domain.OrderStatus) *domain.PaymentOrder {
	t.Helper()
	old := time.Now().Add(-2 * time.Hour)
	o := &domain.PaymentOrder{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Amount:    5000,
		Currency:  "USD",
		Gateway:   sandbox.Name,
		Status:    status,
		CreatedAt: old,
		UpdatedAt: old,
	}
	require.NoError(t, e.store.Repos().Orders().Create(context.Background(), o))
	return o
}

func TestCreateOrder_AmountBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateOrder(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 50, Gateway: sandbox.Name})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = env.svc.CreateOrder(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 100_000_001, Gateway: sandbox.Name})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	order, err := env.svc.CreateOrder(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 120, Gateway: sandbox.Name})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCreated, order.Status)
	assert.Equal(t, "USD", order.Currency)
}

func TestCreateOrder_UnknownGatewayAndDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateOrder(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 500, Gateway: "nope"})
	assert.ErrorIs(t, err, errors.ErrUnknownGateway)

	id := uuid.New()
	req := &CreateOrderRequest{OrderID: id, OwnerID: uuid.New(), Amount: 500, Gateway: sandbox.Name}
	order, err := env.svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id, order.ID)

	_, err = env.svc.CreateOrder(ctx, req)
	assert.ErrorIs(t, err, errors.ErrOrderAlreadyExists)
}

func TestCheckoutAndCallback_DuplicateCallbackCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	order, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: owner, Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, order.Status)
	assert.NotEmpty(t, order.GatewayHandle)
	assert.Contains(t, order.RedirectURL, order.GatewayHandle)

	body, headers, err := env.sandbox.Complete(order.ID, domain.OutcomeSuccess)
	require.NoError(t, err)

	first, err := env.svc.HandleCallback(ctx, sandbox.Name, body, headers)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, domain.OrderStatusCompleted, first.Status)

	second, err := env.svc.HandleCallback(ctx, sandbox.Name, body, headers)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, domain.OrderStatusCompleted, second.Status)

	assert.Equal(t, int64(5000), env.balance(t, owner))
}

func TestHandleCallback_UnverifiedLeavesOrderPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	order, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: owner, Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)
	body, _, err := env.sandbox.Complete(order.ID, domain.OutcomeSuccess)
	require.NoError(t, err)

	forged := http.Header{}
	forged.Set(gateway.SignatureHeader, gateway.Sign([]byte("wrong"), body))
	_, err = env.svc.HandleCallback(ctx, sandbox.Name, body, forged)
	assert.ErrorIs(t, err, errors.ErrUnverifiedCallback)

	_, err = env.svc.HandleCallback(ctx, sandbox.Name, body, http.Header{})
	assert.ErrorIs(t, err, errors.ErrUnverifiedCallback)

	current, err := env.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, current.Status)
	assert.Zero(t, env.balance(t, owner))
}

func TestHandleCallback_AmountMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	order, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: owner, Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)

	body := []byte(`{"orderId":"` + order.ID.String() + `","handle":"` + order.GatewayHandle + `","status":"success","amount":9000,"currency":"USD"}`)
	_, err = env.svc.HandleCallback(ctx, sandbox.Name, body, env.sandbox.SignHeaders(body))
	assert.ErrorIs(t, err, errors.ErrUnverifiedCallback)

	current, err := env.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, current.Status)
	assert.Zero(t, env.balance(t, owner))
}

func TestHandleCallback_PendingOutcomeAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)
	body, headers, err := env.sandbox.Complete(order.ID, domain.OutcomePending)
	require.NoError(t, err)

	res, err := env.svc.HandleCallback(ctx, sandbox.Name, body, headers)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, res.Status)
}

func TestHandleCallback_UnknownOrderAndGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body := []byte(`{"orderId":"` + uuid.NewString() + `","status":"success","amount":5000,"currency":"USD"}`)
	_, err := env.svc.HandleCallback(ctx, sandbox.Name, body, env.sandbox.SignHeaders(body))
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)

	_, err = env.svc.HandleCallback(ctx, "ghost", body, env.sandbox.SignHeaders(body))
	assert.ErrorIs(t, err, errors.ErrUnknownGateway)
}

func TestCheckout_RetriesUnavailableGateway(t *testing.T) {
	env := newTestEnv(t)
	env.sandbox.FailNext(2)

	order, err := env.svc.Checkout(context.Background(), &CreateOrderRequest{OwnerID: uuid.New(), Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, order.Status)
	assert.Equal(t, 3, env.sandbox.Calls())
}

func TestCheckout_GivesUpAfterMaxTries(t *testing.T) {
	env := newTestEnv(t)
	env.sandbox.FailNext(10)

	_, err := env.svc.Checkout(context.Background(), &CreateOrderRequest{OwnerID: uuid.New(), Amount: 5000, Gateway: sandbox.Name})
	assert.ErrorIs(t, err, errors.ErrGatewayUnavailable)
	assert.Equal(t, 3, env.sandbox.Calls())
}

func TestCheckout_RejectionIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.mockGW.On("CreatePayment", mock.Anything, mock.AnythingOfType("*domain.PaymentOrder")).
		Return(nil, errors.Wrap(errors.ErrGatewayRejected, "merchant disabled")).Once()

	owner := uuid.New()
	_, err := env.svc.Checkout(context.Background(), &CreateOrderRequest{OwnerID: owner, Amount: 5000, Gateway: "mockpay"})
	assert.ErrorIs(t, err, errors.ErrGatewayRejected)
	env.mockGW.AssertNumberOfCalls(t, "CreatePayment", 1)

	orders, err := env.svc.ListByOwner(context.Background(), owner, 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusCreated, orders[0].Status)
}

func TestPoll_ResolvesFromGatewayStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	order, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: owner, Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)

	polled, err := env.svc.Poll(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, polled.Status)

	_, _, err = env.sandbox.Complete(order.ID, domain.OutcomeFailure)
	require.NoError(t, err)
	polled, err = env.svc.Poll(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, polled.Status)
	assert.Zero(t, env.balance(t, owner))

	_, err = env.svc.Poll(ctx, uuid.New(), order.ID)
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)
}

func TestGet_LazilyExpiresStaleOrder(t *testing.T) {
	env := newTestEnv(t)
	stale := env.staleOrder(t, domain.OrderStatusPendingConfirmation)

	order, err := env.svc.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, order.Status)
	assert.NotNil(t, order.ResolvedAt)
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.staleOrder(t, domain.OrderStatusPendingConfirmation)
	created := env.staleOrder(t, domain.OrderStatusCreated)
	fresh, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)

	n, err := env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{pending.ID, created.ID} {
		o, err := env.store.Repos().Orders().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusExpired, o.Status)
	}
	o, err := env.store.Repos().Orders().FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingConfirmation, o.Status)

	n, err = env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleCallback_ExpiredOrderNotCredited(t *testing.T) {
	env := newTestEnv(t)
	stale := env.staleOrder(t, domain.OrderStatusPendingConfirmation)

	body := []byte(`{"orderId":"` + stale.ID.String() + `","status":"success","amount":5000,"currency":"USD"}`)
	res, err := env.svc.HandleCallback(context.Background(), sandbox.Name, body, env.sandbox.SignHeaders(body))
	assert.True(t, stderrors.Is(err, errors.ErrExpiredOrder))
	require.NotNil(t, res)
	assert.Equal(t, domain.OrderStatusExpired, res.Status)
	assert.Zero(t, env.balance(t, stale.OwnerID))
}

func TestMarkPendingConfirmation_RequiresCreated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.svc.Checkout(ctx, &CreateOrderRequest{OwnerID: uuid.New(), Amount: 5000, Gateway: sandbox.Name})
	require.NoError(t, err)

	_, err = env.svc.MarkPendingConfirmation(ctx, order.ID, &gateway.Checkout{Handle: "again"})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}
