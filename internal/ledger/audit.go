package ledger

import (
	"context"

	"github.com/google/uuid"

	"investpay/internal/repository"
	"investpay/pkg/domain"
)

// AuditReport compares a wallet balance with the sum of its completed
// transactions.
type AuditReport struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	Balance    int64     `json:"balance"`
	LedgerSum  int64     `json:"ledger_sum"`
	Difference int64     `json:"difference"`
	Consistent bool      `json:"consistent"`
}

type AuditSummary struct {
	Wallets     int           `json:"wallets"`
	Liabilities int64         `json:"liabilities"`
	Negative    []uuid.UUID   `json:"negative"`
	Mismatched  []AuditReport `json:"mismatched"`
}

func (s *Service) Audit(ctx context.Context, owner uuid.UUID) (*AuditReport, error) {
	var report *AuditReport
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		wallet, err := repos.Wallets().FindByOwner(ctx, owner)
		if err != nil {
			return err
		}
		report, err = auditWallet(ctx, repos, wallet)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// AuditAll walks every wallet in pages of pageSize.
func (s *Service) AuditAll(ctx context.Context, pageSize int) (*AuditSummary, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	repos := s.store.Repos()
	summary := &AuditSummary{}
	for offset := 0; ; offset += pageSize {
		wallets, err := repos.Wallets().FindAll(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, w := range wallets {
			summary.Wallets++
			summary.Liabilities += w.Balance
			if w.Balance < 0 {
				summary.Negative = append(summary.Negative, w.OwnerID)
			}
			report, err := auditWallet(ctx, repos, w)
			if err != nil {
				return nil, err
			}
			if !report.Consistent {
				summary.Mismatched = append(summary.Mismatched, *report)
			}
		}
		if len(wallets) < pageSize {
			return summary, nil
		}
	}
}

func auditWallet(ctx context.Context, repos repository.Repos, w *domain.Wallet) (*AuditReport, error) {
	sum, err := repos.Transactions().SumCompleted(ctx, w.OwnerID)
	if err != nil {
		return nil, err
	}
	return &AuditReport{
		OwnerID:    w.OwnerID,
		Balance:    w.Balance,
		LedgerSum:  sum,
		Difference: w.Balance - sum,
		Consistent: w.Balance == sum,
	}, nil
}
