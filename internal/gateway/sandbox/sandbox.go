// Package sandbox is an in-process gateway for local development and tests.
// It accepts every payment, lets the caller decide outcomes and produces
// callbacks signed exactly like a real provider would.
package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"investpay/internal/gateway"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

const Name = "sandbox"

type payment struct {
	order   domain.PaymentOrder
	handle  string
	outcome domain.Outcome
}

type Gateway struct {
	secret  []byte
	baseURL string

	mu        sync.Mutex
	payments  map[uuid.UUID]*payment
	failNext  int
	createCnt int
}

func New(callbackSecret, baseURL string) *Gateway {
	return &Gateway{
		secret:   []byte(callbackSecret),
		baseURL:  strings.TrimRight(baseURL, "/"),
		payments: make(map[uuid.UUID]*payment),
	}
}

func (g *Gateway) Name() string { return Name }

// FailNext makes the next n CreatePayment or QueryStatus calls fail as if the
// provider were unreachable.
func (g *Gateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

// Calls reports how many CreatePayment attempts were made, failed ones included.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCnt
}

func (g *Gateway) unavailable() bool {
	if g.failNext > 0 {
		g.failNext--
		return true
	}
	return false
}

func (g *Gateway) CreatePayment(_ context.Context, order *domain.PaymentOrder) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCnt++
	if g.unavailable() {
		return nil, errors.Wrap(errors.ErrGatewayUnavailable, "sandbox offline")
	}

	p, ok := g.payments[order.ID]
	if !ok {
		p = &payment{order: *order, handle: "sbx_" + strings.ReplaceAll(order.ID.String(), "-", "")[:16], outcome: domain.OutcomePending}
		g.payments[order.ID] = p
	}
	return &gateway.Checkout{
		Handle:      p.handle,
		RedirectURL: g.baseURL + "/checkout/" + p.handle,
	}, nil
}

func (g *Gateway) QueryStatus(_ context.Context, order *domain.PaymentOrder) (domain.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable() {
		return "", errors.Wrap(errors.ErrGatewayUnavailable, "sandbox offline")
	}
	p, ok := g.payments[order.ID]
	if !ok {
		return "", errors.Wrap(errors.ErrGatewayRejected, "unknown payment")
	}
	return p.outcome, nil
}

func (g *Gateway) VerifyCallback(payload []byte, headers http.Header) (*gateway.Callback, error) {
	if err := gateway.VerifySignature(g.secret, payload, headers.Get(gateway.SignatureHeader)); err != nil {
		return nil, err
	}
	return gateway.ParseCallback(payload)
}

// Complete settles the payment of orderID and returns the signed callback the
// provider would deliver.
func (g *Gateway) Complete(orderID uuid.UUID, outcome domain.Outcome) ([]byte, http.Header, error) {
	g.mu.Lock()
	p, ok := g.payments[orderID]
	if ok {
		p.outcome = outcome
	}
	g.mu.Unlock()
	if !ok {
		return nil, nil, errors.Wrap(errors.ErrGatewayRejected, "unknown payment")
	}

	body, err := json.Marshal(map[string]interface{}{
		"orderId":  orderID.String(),
		"handle":   p.handle,
		"status":   string(outcome),
		"amount":   p.order.Amount,
		"currency": p.order.Currency,
	})
	if err != nil {
		return nil, nil, err
	}
	return body, g.SignHeaders(body), nil
}

// SignHeaders returns headers carrying a valid signature for body.
func (g *Gateway) SignHeaders(body []byte) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(gateway.SignatureHeader, gateway.Sign(g.secret, body))
	return h
}
