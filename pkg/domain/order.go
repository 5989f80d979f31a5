package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentOrder tracks one deposit attempt through an external gateway.
type PaymentOrder struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	OwnerID       uuid.UUID   `json:"owner_id" db:"owner_id"`
	Amount        int64       `json:"amount" db:"amount"`
	Currency      string      `json:"currency" db:"currency"`
	Gateway       string      `json:"gateway" db:"gateway"`
	GatewayHandle string      `json:"gateway_handle,omitempty" db:"gateway_handle"`
	RedirectURL   string      `json:"redirect_url,omitempty" db:"redirect_url"`
	Status        OrderStatus `json:"status" db:"status"`
	FailureReason string      `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
}

type OrderStatus string

const (
	OrderStatusCreated             OrderStatus = "created"
	OrderStatusPendingConfirmation OrderStatus = "pending_confirmation"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusFailed              OrderStatus = "failed"
	OrderStatusExpired             OrderStatus = "expired"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:             {OrderStatusPendingConfirmation, OrderStatusExpired},
	OrderStatusPendingConfirmation: {OrderStatusCompleted, OrderStatusFailed, OrderStatusExpired},
}

// IsTerminal reports whether no further transition can leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed || s == OrderStatusExpired
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPendingConfirmation, OrderStatusCompleted,
		OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the order state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsStale reports whether a non-terminal order has sat untouched longer than ttl.
func (o *PaymentOrder) IsStale(now time.Time, ttl time.Duration) bool {
	if o.Status.IsTerminal() || ttl <= 0 {
		return false
	}
	return !now.Before(o.UpdatedAt.Add(ttl))
}

// Outcome is what a gateway reports about a payment.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomePending
}

// Terminal reports whether the outcome can resolve an order.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}
