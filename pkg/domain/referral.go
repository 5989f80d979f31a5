package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReferralEdge links a referee to one of its ancestors. Level 1 is the direct
// referrer; edges are written once at signup and never change.
type ReferralEdge struct {
	ReferrerID uuid.UUID `json:"referrer_id" db:"referrer_id"`
	RefereeID  uuid.UUID `json:"referee_id" db:"referee_id"`
	Level      int       `json:"level" db:"level"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CommissionPayout describes one computed payout before it is posted.
type CommissionPayout struct {
	AncestorID uuid.UUID `json:"ancestor_id"`
	Level      int       `json:"level"`
	Amount     int64     `json:"amount"`
	Applied    bool      `json:"applied"`
}
