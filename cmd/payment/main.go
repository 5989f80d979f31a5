// ==============================================================================
// PAYMENT SERVICE MAIN - cmd/payment/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"investpay/internal/commission"
	"investpay/internal/gateway"
	"investpay/internal/gateway/sandbox"
	"investpay/internal/gateway/whish"
	"investpay/internal/handler"
	"investpay/internal/ledger"
	"investpay/internal/metrics"
	"investpay/internal/middleware"
	"investpay/internal/order"
	"investpay/internal/reconcile"
	"investpay/internal/repository/postgres"
	"investpay/pkg/cache"
	"investpay/pkg/config"
	"investpay/pkg/logger"
	"investpay/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("payment-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Payment Service", map[string]interface{}{
		"port":     cfg.Server.Port,
		"currency": cfg.Payment.Currency,
	})

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	log.Info("Database connected", nil)

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}
	defer redisCache.Close()
	log.Info("Redis connected", nil)

	m := metrics.New()
	store := postgres.NewStore(db)

	ledgerService := ledger.NewService(store, log)
	distributor := commission.NewDistributor(store, ledgerService, cfg.Referral.Percentages, log)
	engine := reconcile.NewEngine(store, ledgerService, distributor, m, log, reconcile.Options{
		OrderExpiry: cfg.Payment.OrderExpiry,
		MaxAttempts: 5,
		BackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	})

	gateways := gateway.NewRegistry(whish.New(whish.Config{
		BaseURL:        cfg.Gateway.Whish.BaseURL,
		Channel:        cfg.Gateway.Whish.Channel,
		Secret:         cfg.Gateway.Whish.Secret,
		WebsiteURL:     cfg.Gateway.Whish.WebsiteURL,
		CallbackSecret: cfg.Gateway.CallbackSecret,
		CallbackURL:    cfg.Gateway.CallbackURL,
		RedirectURL:    cfg.Gateway.RedirectURL,
		Timeout:        cfg.Gateway.Timeout,
		RatePerSec:     cfg.Gateway.Whish.RatePerSec,
	}, log))
	if cfg.Gateway.SandboxEnabled {
		gateways.Register(sandbox.New(cfg.Gateway.CallbackSecret, cfg.Gateway.RedirectURL))
		log.Warn("Sandbox gateway enabled", nil)
	}
	if _, err := gateways.Get(cfg.Gateway.Default); err != nil {
		log.Fatal("Default gateway is not registered", map[string]interface{}{
			"gateway":   cfg.Gateway.Default,
			"available": gateways.Names(),
		})
	}

	orderService := order.NewService(store, gateways, engine, m, log, cfg.Payment, order.RetryPolicy{
		MaxTries: cfg.Gateway.MaxRetries,
		Interval: cfg.Gateway.RetryInterval,
	})
	orderService.SetSweepBatch(cfg.Sweeper.BatchSize)

	var sweeper *order.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper, err = order.NewSweeper(orderService, cfg.Sweeper.Schedule, log)
		if err != nil {
			log.Fatal("Invalid sweeper schedule", map[string]interface{}{"schedule": cfg.Sweeper.Schedule, "error": err.Error()})
		}
		sweeper.Start()
	}

	val := validator.New()
	router := handler.NewRouter(handler.Routes{
		Orders:    handler.NewOrderHandler(orderService, val, log, cfg.Gateway.Default),
		Wallet:    handler.NewWalletHandler(ledgerService, val, log),
		Webhooks:  handler.NewWebhookHandler(orderService, log),
		Referrals: handler.NewReferralHandler(distributor, val, log),
		Admin:     handler.NewAdminHandler(ledgerService, val, log),
		Health: handler.NewHealthHandler("payment", map[string]handler.Pinger{
			"database": store,
			"redis":    redisCache,
		}),
		Auth:        middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.Admin.Token),
		Idempotency: middleware.NewIdempotencyMiddleware(redisCache, cfg.Server.IdempotencyTTL, log),
		RateLimit:   middleware.NewRateLimiter(redisCache, cfg.Server.RateLimit, cfg.Server.RateWindow, log),
		Metrics:     m,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Payment service started", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down payment service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sweeper != nil {
		select {
		case <-sweeper.Stop().Done():
		case <-ctx.Done():
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Payment service forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Payment service stopped gracefully", nil)
}
