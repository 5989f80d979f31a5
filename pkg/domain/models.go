// ==============================================================================
// DOMAIN MODELS - pkg/domain/models.go
// ==============================================================================
package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Wallet holds an owner's spendable balance in minor units.
type Wallet struct {
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	OwnerID        uuid.UUID         `json:"owner_id" db:"owner_id"`
	Kind           TransactionKind   `json:"kind" db:"kind"`
	Amount         int64             `json:"amount" db:"amount"`
	Status         TransactionStatus `json:"status" db:"status"`
	OrderID        *uuid.UUID        `json:"order_id,omitempty" db:"order_id"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	Description    string            `json:"description" db:"description"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindCommission TransactionKind = "commission"
	TransactionKindSystem     TransactionKind = "system"
	TransactionKindAdjustment TransactionKind = "adjustment"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case TransactionKindDeposit, TransactionKindWithdrawal, TransactionKindCommission,
		TransactionKindSystem, TransactionKindAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// DepositKey is the idempotency key of the single deposit an order may produce.
func DepositKey(orderID uuid.UUID) string {
	return "deposit:" + orderID.String()
}

// CommissionKey identifies the payout of one ancestor at one level for one order.
func CommissionKey(orderID, ancestor uuid.UUID, level int) string {
	return "commission:" + orderID.String() + ":" + ancestor.String() + ":" + strconv.Itoa(level)
}
