// Command reconcile prints a ledger consistency report: total wallet
// liabilities, negative balances and wallets whose balance differs from the
// sum of their completed ledger entries. It exits non-zero on any finding.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"investpay/internal/gateway"
	"investpay/internal/ledger"
	"investpay/internal/repository/postgres"
	"investpay/pkg/config"
	"investpay/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	pageSize := flag.Int("page-size", 500, "wallets read per batch")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall time limit")
	flag.Parse()

	cfg := config.Load()
	log := logger.New("reconcile")

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc := ledger.NewService(postgres.NewStore(db), log)
	summary, err := svc.AuditAll(ctx, *pageSize)
	if err != nil {
		log.Error("Audit failed", map[string]interface{}{"error": err.Error()})
		return 2
	}

	currency := cfg.Payment.Currency
	fmt.Println("=========================================================")
	fmt.Println("PAYMENT CORE - LEDGER RECONCILIATION REPORT")
	fmt.Printf("Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Println("=========================================================")

	fmt.Println("\n[1] Total Wallet Liabilities")
	fmt.Printf("    - %d wallets, %s %s\n", summary.Wallets, gateway.ToMajor(summary.Liabilities, currency).StringFixed(gateway.CurrencyExponent(currency)), currency)

	fmt.Println("\n[2] Negative Balance Check")
	if len(summary.Negative) == 0 {
		fmt.Println("    [PASS] No negative balances detected.")
	}
	for _, owner := range summary.Negative {
		fmt.Printf("    [ALERT] Wallet %s has a NEGATIVE balance\n", owner)
	}

	fmt.Println("\n[3] Balance vs Ledger Check")
	if len(summary.Mismatched) == 0 {
		fmt.Println("    [PASS] Every balance equals its completed ledger sum.")
	}
	for _, r := range summary.Mismatched {
		fmt.Printf("    [ALERT] Wallet %s: balance %d, ledger %d, difference %d\n", r.OwnerID, r.Balance, r.LedgerSum, r.Difference)
	}

	if len(summary.Negative) > 0 || len(summary.Mismatched) > 0 {
		return 1
	}
	return 0
}
