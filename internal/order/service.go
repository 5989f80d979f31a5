// ==============================================================================
// ORDER SERVICE - internal/order/service.go
// ==============================================================================
package order

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"investpay/internal/gateway"
	"investpay/internal/metrics"
	"investpay/internal/reconcile"
	"investpay/internal/repository"
	"investpay/pkg/config"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

// Reconciler applies verified outcomes and expiry to orders.
type Reconciler interface {
	Reconcile(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) (*reconcile.Result, error)
	Expire(ctx context.Context, orderID uuid.UUID, trigger string) (*domain.PaymentOrder, bool, error)
}

// RetryPolicy bounds retries of transient gateway failures.
type RetryPolicy struct {
	MaxTries uint
	Interval time.Duration
}

type Service struct {
	store    repository.Store
	gateways *gateway.Registry
	engine   Reconciler
	metrics  *metrics.Metrics
	logger   logger.Logger
	cfg      config.PaymentConfig
	retry    RetryPolicy
	batch    int
	now      func() time.Time
}

func NewService(
	store repository.Store,
	gateways *gateway.Registry,
	engine Reconciler,
	m *metrics.Metrics,
	log logger.Logger,
	cfg config.PaymentConfig,
	retry RetryPolicy,
) *Service {
	if retry.MaxTries == 0 {
		retry.MaxTries = 1
	}
	if retry.Interval <= 0 {
		retry.Interval = 100 * time.Millisecond
	}
	return &Service{
		store:    store,
		gateways: gateways,
		engine:   engine,
		metrics:  m,
		logger:   log,
		cfg:      cfg,
		retry:    retry,
		batch:    100,
		now:      time.Now,
	}
}

type CreateOrderRequest struct {
	OrderID uuid.UUID `json:"order_id"`
	OwnerID uuid.UUID `json:"-" validate:"required"`
	Amount  int64     `json:"amount" validate:"gt=0"`
	Gateway string    `json:"gateway" validate:"required,gateway"`
}

// SetSweepBatch caps how many stale orders one SweepExpired call handles.
func (s *Service) SetSweepBatch(n int) {
	if n > 0 {
		s.batch = n
	}
}

// CreateOrder persists a new order in status created. Amounts outside the
// configured bounds are rejected before anything is stored.
func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.PaymentOrder, error) {
	if req.Amount < s.cfg.MinDeposit || req.Amount > s.cfg.MaxDeposit {
		return nil, errors.Wrap(errors.ErrInvalidAmount,
			fmt.Sprintf("amount must be between %d and %d", s.cfg.MinDeposit, s.cfg.MaxDeposit))
	}
	if _, err := s.gateways.Get(req.Gateway); err != nil {
		return nil, err
	}

	id := req.OrderID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := s.now().UTC()
	order := &domain.PaymentOrder{
		ID:        id,
		OwnerID:   req.OwnerID,
		Amount:    req.Amount,
		Currency:  s.cfg.Currency,
		Gateway:   req.Gateway,
		Status:    domain.OrderStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Repos().Orders().Create(ctx, order); err != nil {
		return nil, err
	}

	s.metrics.OrderCreated(order.Gateway)
	s.logger.Info("Payment order created", map[string]interface{}{
		"order_id": order.ID,
		"owner_id": order.OwnerID,
		"amount":   order.Amount,
		"gateway":  order.Gateway,
	})
	return order, nil
}

// MarkPendingConfirmation records the gateway handle and moves the order from
// created to pending_confirmation.
func (s *Service) MarkPendingConfirmation(ctx context.Context, orderID uuid.UUID, checkout *gateway.Checkout) (*domain.PaymentOrder, error) {
	orders := s.store.Repos().Orders()
	current, err := orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.OrderStatusCreated {
		return nil, errors.Wrap(errors.ErrInvalidTransition, "order is "+string(current.Status))
	}

	updated, err := orders.Transition(ctx, orderID, domain.OrderStatusCreated, domain.OrderStatusPendingConfirmation,
		repository.OrderUpdate{GatewayHandle: checkout.Handle, RedirectURL: checkout.RedirectURL, At: s.now().UTC()})
	if err != nil {
		if stderrors.Is(err, errors.ErrStorageConflict) {
			return nil, errors.Wrap(errors.ErrInvalidTransition, "order left created concurrently")
		}
		return nil, err
	}
	return updated, nil
}

// Resolve hands a verified outcome to the reconciliation engine.
func (s *Service) Resolve(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) (*reconcile.Result, error) {
	return s.engine.Reconcile(ctx, orderID, outcome)
}

// Get returns the order, expiring it first when its confirmation window has
// passed.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	order, err := s.store.Repos().Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsStale(s.now().UTC(), s.cfg.OrderExpiry) {
		return order, nil
	}

	expired, _, err := s.engine.Expire(ctx, orderID, "read")
	if err != nil {
		s.logger.Warn("Lazy expiry failed", map[string]interface{}{"order_id": orderID, "error": err.Error()})
		return order, nil
	}
	return expired, nil
}

// GetForOwner hides orders of other owners behind ErrOrderNotFound.
func (s *Service) GetForOwner(ctx context.Context, owner, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != owner {
		return nil, errors.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*domain.PaymentOrder, error) {
	return s.store.Repos().Orders().FindByOwner(ctx, owner, limit, offset)
}

// SweepExpired expires stale orders, including created orders that never got
// a gateway handle. Failures are logged per order and do not stop the sweep.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.OrderExpiry)
	stale, err := s.store.Repos().Orders().FindStale(ctx,
		[]domain.OrderStatus{domain.OrderStatusCreated, domain.OrderStatusPendingConfirmation}, cutoff, s.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, changed, err := s.engine.Expire(ctx, o.ID, "sweep")
		if err != nil {
			s.logger.Error("Failed to expire order", map[string]interface{}{"order_id": o.ID, "error": err.Error()})
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

// Checkout creates an order, registers the payment with the gateway and
// moves the order to pending_confirmation. Gateway I/O happens outside any
// unit of work; transient failures are retried with backoff. An order whose
// gateway call ultimately fails stays created and is swept later.
func (s *Service) Checkout(ctx context.Context, req *CreateOrderRequest) (*domain.PaymentOrder, error) {
	order, err := s.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(order.Gateway)
	if err != nil {
		return nil, err
	}

	checkout, err := withRetry(ctx, s.retry, func() (*gateway.Checkout, error) {
		c, err := gw.CreatePayment(ctx, order)
		s.metrics.GatewayRequest(gw.Name(), "create_payment", err)
		return c, err
	})
	if err != nil {
		s.logger.Error("Gateway payment creation failed", map[string]interface{}{
			"order_id": order.ID,
			"gateway":  gw.Name(),
			"error":    err.Error(),
		})
		return nil, err
	}

	return s.MarkPendingConfirmation(ctx, order.ID, checkout)
}

// Poll asks the gateway for the authoritative status of a pending order and
// resolves it when the gateway reports a terminal outcome.
func (s *Service) Poll(ctx context.Context, owner, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	order, err := s.GetForOwner(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return order, nil
	}
	if order.Status != domain.OrderStatusPendingConfirmation {
		return nil, errors.Wrap(errors.ErrInvalidTransition, "order has no gateway payment yet")
	}

	gw, err := s.gateways.Get(order.Gateway)
	if err != nil {
		return nil, err
	}
	outcome, err := withRetry(ctx, s.retry, func() (domain.Outcome, error) {
		o, err := gw.QueryStatus(ctx, order)
		s.metrics.GatewayRequest(gw.Name(), "query_status", err)
		return o, err
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Terminal() {
		return order, nil
	}

	res, err := s.engine.Reconcile(ctx, order.ID, outcome)
	if res != nil {
		return res.Order, err
	}
	return nil, err
}

// HandleCallback verifies a raw gateway notification and reconciles the
// order it refers to. Unverified callbacks change nothing.
func (s *Service) HandleCallback(ctx context.Context, gatewayName string, payload []byte, headers http.Header) (*reconcile.Result, error) {
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	cb, err := gw.VerifyCallback(payload, headers)
	if err != nil {
		if stderrors.Is(err, errors.ErrUnverifiedCallback) {
			s.rejectCallback(gatewayName, uuid.Nil, "signature")
		}
		return nil, err
	}

	order, err := s.store.Repos().Orders().FindByID(ctx, cb.OrderID)
	if err != nil {
		return nil, err
	}
	if reason := mismatch(order, gatewayName, cb); reason != "" {
		s.rejectCallback(gatewayName, order.ID, reason)
		return nil, errors.Wrap(errors.ErrUnverifiedCallback, reason+" mismatch")
	}

	if !cb.Outcome.Terminal() {
		return &reconcile.Result{Order: order, Status: order.Status}, nil
	}
	return s.engine.Reconcile(ctx, order.ID, cb.Outcome)
}

func mismatch(order *domain.PaymentOrder, gatewayName string, cb *gateway.Callback) string {
	switch {
	case order.Gateway != gatewayName:
		return "gateway"
	case cb.Amount != order.Amount:
		return "amount"
	case cb.Currency != "" && cb.Currency != order.Currency:
		return "currency"
	case cb.Handle != "" && order.GatewayHandle != "" && cb.Handle != order.GatewayHandle:
		return "handle"
	}
	return ""
}

func (s *Service) rejectCallback(gatewayName string, orderID uuid.UUID, reason string) {
	s.metrics.UnverifiedCallback(gatewayName)
	s.logger.Warn("Discarding unverified gateway callback", map[string]interface{}{
		"gateway":  gatewayName,
		"order_id": orderID,
		"reason":   reason,
	})
}

// withRetry retries op while it fails with ErrGatewayUnavailable.
func withRetry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !stderrors.Is(err, errors.ErrGatewayUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
}
