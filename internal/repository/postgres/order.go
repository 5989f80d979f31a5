package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

const orderColumns = `id, owner_id, amount, currency, gateway, gateway_handle, redirect_url,
	status, failure_reason, created_at, updated_at, resolved_at`

type OrderRepository struct {
	q sqlx.ExtContext
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.PaymentOrder) error {
	query := `
		INSERT INTO payment_schema.payment_orders (
			id, owner_id, amount, currency, gateway, gateway_handle, redirect_url,
			status, failure_reason, created_at, updated_at
		) VALUES (
			:id, :owner_id, :amount, :currency, :gateway, :gateway_handle, :redirect_url,
			:status, :failure_reason, :created_at, :updated_at
		)
	`
	_, err := sqlx.NamedExecContext(ctx, r.q, query, order)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrOrderAlreadyExists
		}
		return mapError(err, "failed to create payment order")
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	return r.find(ctx, `SELECT `+orderColumns+` FROM payment_schema.payment_orders WHERE id = $1`, id)
}

func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	return r.find(ctx, `SELECT `+orderColumns+` FROM payment_schema.payment_orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) find(ctx context.Context, query string, id uuid.UUID) (*domain.PaymentOrder, error) {
	order := &domain.PaymentOrder{}
	if err := sqlx.GetContext(ctx, r.q, order, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrOrderNotFound
		}
		return nil, mapError(err, "failed to find payment order")
	}
	return order, nil
}

func (r *OrderRepository) FindByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*domain.PaymentOrder, error) {
	var orders []*domain.PaymentOrder
	query := `SELECT ` + orderColumns + ` FROM payment_schema.payment_orders
		WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	if err := sqlx.SelectContext(ctx, r.q, &orders, query, owner, limit, offset); err != nil {
		return nil, mapError(err, "failed to find payment orders by owner")
	}
	return orders, nil
}

func (r *OrderRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, upd repository.OrderUpdate) (*domain.PaymentOrder, error) {
	if !domain.CanTransition(from, to) {
		return nil, errors.Wrap(errors.ErrInvalidTransition, "order cannot move from "+string(from)+" to "+string(to))
	}
	query := `
		UPDATE payment_schema.payment_orders SET
			status = $1,
			gateway_handle = COALESCE(NULLIF($2, ''), gateway_handle),
			redirect_url = COALESCE(NULLIF($3, ''), redirect_url),
			failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
			updated_at = $5,
			resolved_at = CASE WHEN $6 THEN $5 ELSE resolved_at END
		WHERE id = $7 AND status = $8
		RETURNING ` + orderColumns

	order := &domain.PaymentOrder{}
	err := sqlx.GetContext(ctx, r.q, order, query,
		to, upd.GatewayHandle, upd.RedirectURL, upd.FailureReason, upd.At, to.IsTerminal(), id, from)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrStorageConflict, "order status changed concurrently")
		}
		return nil, mapError(err, "failed to transition payment order")
	}
	return order, nil
}

func (r *OrderRepository) FindStale(ctx context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]*domain.PaymentOrder, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	var orders []*domain.PaymentOrder
	query := `SELECT ` + orderColumns + ` FROM payment_schema.payment_orders
		WHERE status = ANY($1) AND updated_at <= $2
		ORDER BY updated_at ASC LIMIT $3`
	if err := sqlx.SelectContext(ctx, r.q, &orders, query, pq.Array(names), updatedBefore, limit); err != nil {
		return nil, mapError(err, "failed to find stale payment orders")
	}
	return orders, nil
}
