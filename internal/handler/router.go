package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"investpay/internal/metrics"
	"investpay/internal/middleware"
	"investpay/pkg/logger"
)

// Routes bundles everything the HTTP surface needs.
type Routes struct {
	Orders    *OrderHandler
	Wallet    *WalletHandler
	Webhooks  *WebhookHandler
	Referrals *ReferralHandler
	Admin     *AdminHandler
	Health    *HealthHandler

	Auth        *middleware.AuthMiddleware
	Idempotency *middleware.IdempotencyMiddleware
	RateLimit   *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recovery(rt.Logger))
	r.Use(middleware.NewLoggingMiddleware(rt.Logger).Log)
	r.Use(rt.Metrics.InstrumentHandler)
	r.Use(middleware.BodyLimit(1 << 20))

	r.HandleFunc("/health", rt.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", rt.Health.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", rt.Metrics.Handler()).Methods(http.MethodGet)

	// Gateways authenticate by signature, not by bearer token.
	r.HandleFunc("/webhooks/{gateway}", rt.Webhooks.Receive).Methods(http.MethodPost)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(rt.Auth.RequireAdmin)
	internal.HandleFunc("/referrals", rt.Referrals.RecordReferral).Methods(http.MethodPost)
	internal.HandleFunc("/adjustments", rt.Admin.Adjust).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rt.Auth.Authenticate)
	if rt.RateLimit != nil {
		api.Use(rt.RateLimit.Limit)
	}

	orders := api.PathPrefix("/orders").Subrouter()
	orders.Handle("", rt.Idempotency.Require(http.HandlerFunc(rt.Orders.CreateOrder))).Methods(http.MethodPost)
	orders.HandleFunc("", rt.Orders.ListOrders).Methods(http.MethodGet)
	orders.HandleFunc("/{id}", rt.Orders.GetOrder).Methods(http.MethodGet)
	orders.HandleFunc("/{id}/poll", rt.Orders.PollOrder).Methods(http.MethodPost)

	api.HandleFunc("/wallet", rt.Wallet.GetWallet).Methods(http.MethodGet)
	api.Handle("/wallet/withdrawals", rt.Idempotency.Require(http.HandlerFunc(rt.Wallet.Withdraw))).Methods(http.MethodPost)
	api.HandleFunc("/referrals/earnings", rt.Referrals.Earnings).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(rt.Auth.RequireAdmin)
	admin.HandleFunc("/audit", rt.Admin.AuditAll).Methods(http.MethodGet)
	admin.HandleFunc("/audit/{owner}", rt.Admin.AuditOwner).Methods(http.MethodGet)

	return r
}
