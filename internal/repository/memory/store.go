// Package memory is an in-process repository.Store used by tests and local
// development. A unit of work holds the store mutex for its whole duration
// and is rolled back from a snapshot when it fails. Units of work do not nest.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"investpay/internal/repository"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

type state struct {
	orders  map[uuid.UUID]domain.PaymentOrder
	wallets map[uuid.UUID]domain.Wallet
	txs     []domain.Transaction
	txKeys  map[string]int
	edges   map[uuid.UUID][]domain.ReferralEdge
}

func newState() *state {
	return &state{
		orders:  make(map[uuid.UUID]domain.PaymentOrder),
		wallets: make(map[uuid.UUID]domain.Wallet),
		txKeys:  make(map[string]int),
		edges:   make(map[uuid.UUID][]domain.ReferralEdge),
	}
}

func (s *state) clone() *state {
	c := &state{
		orders:  make(map[uuid.UUID]domain.PaymentOrder, len(s.orders)),
		wallets: make(map[uuid.UUID]domain.Wallet, len(s.wallets)),
		txs:     append([]domain.Transaction(nil), s.txs...),
		txKeys:  make(map[string]int, len(s.txKeys)),
		edges:   make(map[uuid.UUID][]domain.ReferralEdge, len(s.edges)),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.txKeys {
		c.txKeys[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = append([]domain.ReferralEdge(nil), v...)
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) Repos() repository.Repos {
	return &repos{store: s}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, &repos{store: s, inTx: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

type repos struct {
	store *Store
	inTx  bool
}

func (r *repos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *repos) Orders() repository.OrderRepository             { return &orderRepo{r} }
func (r *repos) Wallets() repository.WalletRepository           { return &walletRepo{r} }
func (r *repos) Transactions() repository.TransactionRepository { return &transactionRepo{r} }
func (r *repos) Referrals() repository.ReferralRepository       { return &referralRepo{r} }

type orderRepo struct{ *repos }

func (r *orderRepo) Create(_ context.Context, order *domain.PaymentOrder) error {
	defer r.lock()()
	if _, ok := r.store.data.orders[order.ID]; ok {
		return errors.ErrOrderAlreadyExists
	}
	r.store.data.orders[order.ID] = *order
	return nil
}

func (r *orderRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	defer r.lock()()
	o, ok := r.store.data.orders[id]
	if !ok {
		return nil, errors.ErrOrderNotFound
	}
	return &o, nil
}

// FindByIDForUpdate needs no extra locking: the unit of work already holds
// the store mutex.
func (r *orderRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentOrder, error) {
	return r.FindByID(ctx, id)
}

func (r *orderRepo) FindByOwner(_ context.Context, owner uuid.UUID, limit, offset int) ([]*domain.PaymentOrder, error) {
	defer r.lock()()
	var out []*domain.PaymentOrder
	for _, o := range r.store.data.orders {
		if o.OwnerID == owner {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (r *orderRepo) Transition(_ context.Context, id uuid.UUID, from, to domain.OrderStatus, upd repository.OrderUpdate) (*domain.PaymentOrder, error) {
	if !domain.CanTransition(from, to) {
		return nil, errors.Wrap(errors.ErrInvalidTransition, "order cannot move from "+string(from)+" to "+string(to))
	}
	defer r.lock()()
	o, ok := r.store.data.orders[id]
	if !ok {
		return nil, errors.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, errors.Wrap(errors.ErrStorageConflict, "order status changed concurrently")
	}
	o.Status = to
	if upd.GatewayHandle != "" {
		o.GatewayHandle = upd.GatewayHandle
	}
	if upd.RedirectURL != "" {
		o.RedirectURL = upd.RedirectURL
	}
	if upd.FailureReason != "" {
		o.FailureReason = upd.FailureReason
	}
	o.UpdatedAt = upd.At
	if to.IsTerminal() {
		at := upd.At
		o.ResolvedAt = &at
	}
	r.store.data.orders[id] = o
	return &o, nil
}

func (r *orderRepo) FindStale(_ context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]*domain.PaymentOrder, error) {
	defer r.lock()()
	want := make(map[domain.OrderStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*domain.PaymentOrder
	for _, o := range r.store.data.orders {
		if want[o.Status] && !o.UpdatedAt.After(updatedBefore) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

type walletRepo struct{ *repos }

func (r *walletRepo) Ensure(_ context.Context, owner uuid.UUID, at time.Time) (*domain.Wallet, error) {
	defer r.lock()()
	w, ok := r.store.data.wallets[owner]
	if !ok {
		w = domain.Wallet{OwnerID: owner, CreatedAt: at, UpdatedAt: at}
		r.store.data.wallets[owner] = w
	}
	return &w, nil
}

func (r *walletRepo) FindByOwner(_ context.Context, owner uuid.UUID) (*domain.Wallet, error) {
	defer r.lock()()
	w, ok := r.store.data.wallets[owner]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	return &w, nil
}

func (r *walletRepo) ApplyDelta(_ context.Context, owner uuid.UUID, delta int64, at time.Time) (*domain.Wallet, error) {
	defer r.lock()()
	w, ok := r.store.data.wallets[owner]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	if w.Balance+delta < 0 {
		return nil, errors.ErrInsufficientBalance
	}
	w.Balance += delta
	w.Version++
	w.UpdatedAt = at
	r.store.data.wallets[owner] = w
	return &w, nil
}

func (r *walletRepo) FindAll(_ context.Context, limit, offset int) ([]*domain.Wallet, error) {
	defer r.lock()()
	out := make([]*domain.Wallet, 0, len(r.store.data.wallets))
	for _, w := range r.store.data.wallets {
		w := w
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OwnerID.String() < out[j].OwnerID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

type transactionRepo struct{ *repos }

func (r *transactionRepo) Insert(_ context.Context, tx *domain.Transaction) (bool, error) {
	defer r.lock()()
	if _, ok := r.store.data.txKeys[tx.IdempotencyKey]; ok {
		return false, nil
	}
	r.store.data.txKeys[tx.IdempotencyKey] = len(r.store.data.txs)
	r.store.data.txs = append(r.store.data.txs, *tx)
	return true, nil
}

func (r *transactionRepo) FindByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	defer r.lock()()
	i, ok := r.store.data.txKeys[key]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	tx := r.store.data.txs[i]
	return &tx, nil
}

// FindByOwner returns newest first; insertion order breaks timestamp ties.
func (r *transactionRepo) FindByOwner(_ context.Context, owner uuid.UUID, limit, offset int) ([]*domain.Transaction, error) {
	defer r.lock()()
	var out []*domain.Transaction
	for i := len(r.store.data.txs) - 1; i >= 0; i-- {
		if tx := r.store.data.txs[i]; tx.OwnerID == owner {
			out = append(out, &tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *transactionRepo) CountByOwner(_ context.Context, owner uuid.UUID) (int, error) {
	defer r.lock()()
	n := 0
	for _, tx := range r.store.data.txs {
		if tx.OwnerID == owner {
			n++
		}
	}
	return n, nil
}

func (r *transactionRepo) SumCompleted(_ context.Context, owner uuid.UUID) (int64, error) {
	return r.sum(owner, "")
}

func (r *transactionRepo) SumByKind(_ context.Context, owner uuid.UUID, kind domain.TransactionKind) (int64, error) {
	return r.sum(owner, kind)
}

func (r *transactionRepo) sum(owner uuid.UUID, kind domain.TransactionKind) (int64, error) {
	defer r.lock()()
	var total int64
	for _, tx := range r.store.data.txs {
		if tx.OwnerID != owner || tx.Status != domain.TransactionStatusCompleted {
			continue
		}
		if kind != "" && tx.Kind != kind {
			continue
		}
		total += tx.Amount
	}
	return total, nil
}

type referralRepo struct{ *repos }

func (r *referralRepo) Create(_ context.Context, edges []domain.ReferralEdge) error {
	defer r.lock()()
	seen := make(map[uuid.UUID]map[int]bool)
	for _, e := range edges {
		if len(r.store.data.edges[e.RefereeID]) > 0 || seen[e.RefereeID][e.Level] {
			return errors.ErrReferralExists
		}
		if seen[e.RefereeID] == nil {
			seen[e.RefereeID] = make(map[int]bool)
		}
		seen[e.RefereeID][e.Level] = true
	}
	for _, e := range edges {
		r.store.data.edges[e.RefereeID] = append(r.store.data.edges[e.RefereeID], e)
	}
	return nil
}

func (r *referralRepo) AncestorAt(_ context.Context, referee uuid.UUID, level int) (*domain.ReferralEdge, error) {
	defer r.lock()()
	for _, e := range r.store.data.edges[referee] {
		if e.Level == level {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (r *referralRepo) Ancestors(_ context.Context, referee uuid.UUID) ([]domain.ReferralEdge, error) {
	defer r.lock()()
	out := append([]domain.ReferralEdge(nil), r.store.data.edges[referee]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (r *referralRepo) HasReferees(_ context.Context, referrer uuid.UUID) (bool, error) {
	defer r.lock()()
	for _, edges := range r.store.data.edges {
		for _, e := range edges {
			if e.ReferrerID == referrer {
				return true, nil
			}
		}
	}
	return false, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
