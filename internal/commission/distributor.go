// Package commission pays multi-level referral commissions on completed
// deposits and maintains the referral closure table.
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"investpay/internal/ledger"
	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

var hundred = decimal.NewFromInt(100)

type Distributor struct {
	store       repository.Store
	ledger      *ledger.Service
	percentages []decimal.Decimal
	logger      logger.Logger
	now         func() time.Time
}

// NewDistributor builds a distributor paying percentages[i] to the ancestor at
// level i+1. The table is expected to be validated by config.
func NewDistributor(store repository.Store, ledgerSvc *ledger.Service, percentages []decimal.Decimal, log logger.Logger) *Distributor {
	return &Distributor{
		store:       store,
		ledger:      ledgerSvc,
		percentages: append([]decimal.Decimal(nil), percentages...),
		logger:      log,
		now:         time.Now,
	}
}

// Levels is the number of ancestor levels eligible for payouts.
func (d *Distributor) Levels() int {
	return len(d.percentages)
}

// Payout returns floor(amount * pct / 100) in minor units.
func Payout(amount int64, pct decimal.Decimal) int64 {
	if amount <= 0 || !pct.IsPositive() {
		return 0
	}
	q, _ := decimal.NewFromInt(amount).Mul(pct).QuoRem(hundred, 0)
	return q.IntPart()
}

// Distribute pays every ancestor of the order owner within the caller's unit
// of work. Each level is one storage read; the walk stops at the first level
// with no ancestor. Payouts already recorded for the order are not repeated.
func (d *Distributor) Distribute(ctx context.Context, repos repository.Repos, order *domain.PaymentOrder) ([]domain.CommissionPayout, error) {
	var payouts []domain.CommissionPayout
	for level := 1; level <= len(d.percentages); level++ {
		edge, err := repos.Referrals().AncestorAt(ctx, order.OwnerID, level)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read referral ancestor")
		}
		if edge == nil {
			break
		}

		amount := Payout(order.Amount, d.percentages[level-1])
		if amount == 0 {
			continue
		}

		orderID := order.ID
		_, applied, err := d.ledger.PostTx(ctx, repos, ledger.Posting{
			OwnerID:        edge.ReferrerID,
			Kind:           domain.TransactionKindCommission,
			Amount:         amount,
			OrderID:        &orderID,
			IdempotencyKey: domain.CommissionKey(order.ID, edge.ReferrerID, level),
			Description:    fmt.Sprintf("Level %d referral commission", level),
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to post commission")
		}

		payouts = append(payouts, domain.CommissionPayout{
			AncestorID: edge.ReferrerID,
			Level:      level,
			Amount:     amount,
			Applied:    applied,
		})
	}
	return payouts, nil
}

// RecordReferral materialises the closure edges of a new signup: the direct
// referrer at level 1 and the referrer's own ancestors one level further up.
// A referee that already has edges in either direction yields ErrReferralExists.
func (d *Distributor) RecordReferral(ctx context.Context, referee, referrer uuid.UUID) ([]domain.ReferralEdge, error) {
	if referee == referrer {
		return nil, errors.ErrSelfReferral
	}
	depth := len(d.percentages)
	if depth < 1 {
		depth = 1
	}

	var edges []domain.ReferralEdge
	err := d.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		existing, err := repos.Referrals().Ancestors(ctx, referee)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errors.ErrReferralExists
		}

		chain, err := repos.Referrals().Ancestors(ctx, referrer)
		if err != nil {
			return err
		}

		now := d.now().UTC()
		edges = append(edges[:0], domain.ReferralEdge{ReferrerID: referrer, RefereeID: referee, Level: 1, CreatedAt: now})
		for _, e := range chain {
			if e.ReferrerID == referee {
				return errors.ErrReferralCycle
			}
			if e.Level+1 > depth {
				continue
			}
			edges = append(edges, domain.ReferralEdge{
				ReferrerID: e.ReferrerID,
				RefereeID:  referee,
				Level:      e.Level + 1,
				CreatedAt:  now,
			})
		}

		// existing descendants' edges are immutable and would miss the new ancestors
		hasReferees, err := repos.Referrals().HasReferees(ctx, referee)
		if err != nil {
			return err
		}
		if hasReferees {
			return errors.ErrReferralExists
		}
		return repos.Referrals().Create(ctx, edges)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Referral recorded", map[string]interface{}{
		"referee_id":  referee,
		"referrer_id": referrer,
		"levels":      len(edges),
	})
	return edges, nil
}

func (d *Distributor) Ancestors(ctx context.Context, referee uuid.UUID) ([]domain.ReferralEdge, error) {
	return d.store.Repos().Referrals().Ancestors(ctx, referee)
}

// Earnings is the total commission credited to owner.
func (d *Distributor) Earnings(ctx context.Context, owner uuid.UUID) (int64, error) {
	return d.store.Repos().Transactions().SumByKind(ctx, owner, domain.TransactionKindCommission)
}
