// Package gateway defines the boundary to external payment providers.
// Adapters translate orders into provider requests and provider callbacks
// into verified outcomes; nothing they return is trusted until verified.
package gateway

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"

	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

// Checkout is what a provider hands back for a new payment.
type Checkout struct {
	Handle      string `json:"handle"`
	RedirectURL string `json:"redirect_url"`
}

// Callback is a provider notification that passed signature verification.
type Callback struct {
	OrderID  uuid.UUID
	Handle   string
	Outcome  domain.Outcome
	Amount   int64
	Currency string
}

type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, order *domain.PaymentOrder) (*Checkout, error)
	// VerifyCallback authenticates and parses a raw callback. It returns
	// ErrUnverifiedCallback when authenticity cannot be established.
	VerifyCallback(payload []byte, headers http.Header) (*Callback, error)
	QueryStatus(ctx context.Context, order *domain.PaymentOrder) (domain.Outcome, error)
}

type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Name()] = g
}

func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return nil, errors.ErrUnknownGateway
	}
	return g, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
