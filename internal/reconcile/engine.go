// Package reconcile turns a verified gateway outcome into exactly one order
// transition and at most one set of ledger effects.
package reconcile

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"investpay/internal/commission"
	"investpay/internal/ledger"
	"investpay/internal/metrics"
	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

type Options struct {
	OrderExpiry time.Duration
	// MaxAttempts bounds how often a unit of work is re-run after a storage
	// conflict. Values below 1 mean a single attempt.
	MaxAttempts int
	BackOff     func() backoff.BackOff
}

type Engine struct {
	store       repository.Store
	ledger      *ledger.Service
	distributor *commission.Distributor
	metrics     *metrics.Metrics
	logger      logger.Logger
	opts        Options
	now         func() time.Time
}

// Result describes the order after a reconcile call. Applied is true only for
// the call that produced the ledger effects.
type Result struct {
	Order       *domain.PaymentOrder
	Status      domain.OrderStatus
	Applied     bool
	Deposit     *domain.Transaction
	Commissions []domain.CommissionPayout
}

func NewEngine(store repository.Store, ledgerSvc *ledger.Service, distributor *commission.Distributor, m *metrics.Metrics, log logger.Logger, opts Options) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackOff == nil {
		opts.BackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		}
	}
	return &Engine{
		store:       store,
		ledger:      ledgerSvc,
		distributor: distributor,
		metrics:     m,
		logger:      log,
		opts:        opts,
		now:         time.Now,
	}
}

// Reconcile applies a verified terminal outcome to the order. Orders already
// in a terminal state are returned unchanged. An order past its expiry window
// is moved to expired and ErrExpiredOrder is returned alongside the result.
func (e *Engine) Reconcile(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) (*Result, error) {
	if !outcome.Terminal() {
		return nil, errors.ErrInvalidOutcome
	}

	start := e.now()
	res, err := e.retryConflicts(ctx, func() (*Result, error) {
		return e.reconcileOnce(ctx, orderID, outcome)
	})

	if res != nil {
		e.metrics.Reconciled(string(res.Status), res.Applied, e.now().Sub(start))
	}
	if err != nil && !stderrors.Is(err, errors.ErrExpiredOrder) {
		e.logger.Error("Reconcile failed", map[string]interface{}{
			"order_id": orderID,
			"outcome":  outcome,
			"error":    err.Error(),
		})
	}
	return res, err
}

// retryConflicts re-runs fn while it fails with ErrStorageConflict, waiting
// between attempts with exponential backoff.
func (e *Engine) retryConflicts(ctx context.Context, fn func() (*Result, error)) (*Result, error) {
	b := e.opts.BackOff()
	b.Reset()
	for attempt := 1; ; attempt++ {
		res, err := fn()
		if err == nil || !stderrors.Is(err, errors.ErrStorageConflict) || attempt >= e.opts.MaxAttempts {
			return res, err
		}
		e.metrics.StorageConflict()

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return res, err
		}
		e.logger.Warn("Storage conflict, retrying reconcile", map[string]interface{}{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Engine) reconcileOnce(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) (*Result, error) {
	var (
		res     *Result
		expired bool
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		res = nil
		expired = false

		order, err := repos.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if order.Status.IsTerminal() {
			res = &Result{Order: order, Status: order.Status}
			return nil
		}

		now := e.now().UTC()
		if order.IsStale(now, e.opts.OrderExpiry) {
			updated, err := repos.Orders().Transition(ctx, order.ID, order.Status, domain.OrderStatusExpired,
				repository.OrderUpdate{FailureReason: "expired before confirmation", At: now})
			if err != nil {
				return err
			}
			res = &Result{Order: updated, Status: updated.Status}
			expired = true
			return nil
		}

		if order.Status != domain.OrderStatusPendingConfirmation {
			return errors.Wrap(errors.ErrInvalidTransition, "order "+order.ID.String()+" is "+string(order.Status))
		}

		if outcome == domain.OutcomeFailure {
			updated, err := repos.Orders().Transition(ctx, order.ID, order.Status, domain.OrderStatusFailed,
				repository.OrderUpdate{FailureReason: "gateway reported failure", At: now})
			if err != nil {
				return err
			}
			res = &Result{Order: updated, Status: updated.Status, Applied: true}
			return nil
		}

		updated, err := repos.Orders().Transition(ctx, order.ID, order.Status, domain.OrderStatusCompleted,
			repository.OrderUpdate{At: now})
		if err != nil {
			return err
		}

		orderRef := updated.ID
		deposit, applied, err := e.ledger.PostTx(ctx, repos, ledger.Posting{
			OwnerID:        updated.OwnerID,
			Kind:           domain.TransactionKindDeposit,
			Amount:         updated.Amount,
			OrderID:        &orderRef,
			IdempotencyKey: domain.DepositKey(updated.ID),
			Description:    "Deposit via " + updated.Gateway,
		})
		if err != nil {
			return errors.Wrap(err, "failed to post deposit")
		}
		if !applied {
			// the order was pending yet a deposit exists; never credit twice
			e.logger.Warn("Deposit already recorded for pending order", map[string]interface{}{
				"order_id": updated.ID,
			})
		}

		payouts, err := e.distributor.Distribute(ctx, repos, updated)
		if err != nil {
			return err
		}

		res = &Result{
			Order:       updated,
			Status:      updated.Status,
			Applied:     applied,
			Deposit:     deposit,
			Commissions: payouts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		e.metrics.OrderExpired("reconcile")
		e.logger.Info("Order expired before confirmation", map[string]interface{}{"order_id": orderID})
		return res, errors.ErrExpiredOrder
	}
	if res.Applied && res.Status == domain.OrderStatusCompleted {
		for _, p := range res.Commissions {
			if p.Applied {
				e.metrics.CommissionPaid(p.Amount)
			}
		}
		e.logger.Info("Order completed", map[string]interface{}{
			"order_id":    res.Order.ID,
			"owner_id":    res.Order.OwnerID,
			"amount":      res.Order.Amount,
			"commissions": len(res.Commissions),
		})
	}
	return res, nil
}

// Expire moves a stale non-terminal order to expired. It reports whether this
// call performed the transition.
func (e *Engine) Expire(ctx context.Context, orderID uuid.UUID, trigger string) (*domain.PaymentOrder, bool, error) {
	var (
		order   *domain.PaymentOrder
		changed bool
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		changed = false
		current, err := repos.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = current

		now := e.now().UTC()
		if !current.IsStale(now, e.opts.OrderExpiry) {
			return nil
		}
		updated, err := repos.Orders().Transition(ctx, current.ID, current.Status, domain.OrderStatusExpired,
			repository.OrderUpdate{FailureReason: "expired before confirmation", At: now})
		if err != nil {
			return err
		}
		order, changed = updated, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		e.metrics.OrderExpired(trigger)
	}
	return order, changed, nil
}
