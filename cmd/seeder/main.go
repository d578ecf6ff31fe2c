package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/config"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/ledger"
	"github.com/punchamoorthee/remitledger/internal/logger"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	totalAccounts  int
	initialBalance string
	outFile        string
)

func init() {
	flag.IntVar(&totalAccounts, "accounts", 1000, "Number of wallets to create")
	flag.StringVar(&initialBalance, "balance", "1000.00", "Opening balance per wallet")
	flag.StringVar(&outFile, "out", "accounts.txt", "File the wallet IDs are written to")
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.UsesMemoryStore() {
		log.Fatal("seeder needs DB_SOURCE; the in-memory store does not outlive the process")
	}
	zl := logger.New(cfg.Env)
	defer func() { _ = zl.Sync() }()

	amount, err := decimal.NewFromString(initialBalance)
	if err != nil || !amount.IsPositive() {
		zl.Fatal("balance must be a positive decimal", zap.String("balance", initialBalance))
	}

	ctx := context.Background()
	if err := store.Migrate(cfg.DBSource, zl); err != nil {
		zl.Fatal("migrations failed", zap.Error(err))
	}
	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		zl.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	c := clock.Real{}
	l := ledger.New(st, c, zl)

	zl.Info("--- Seeding Database ---")

	ids, err := st.ListAccountIDs(ctx)
	if err != nil {
		zl.Fatal("unable to list accounts", zap.Error(err))
	}
	if len(ids) >= totalAccounts {
		zl.Info("database already seeded, skipping", zap.Int("accounts", len(ids)))
		writeIDs(ids, zl)
		return
	}

	// Every opening balance goes through the ledger so the cached balance
	// always equals the journal.
	start := time.Now()
	for len(ids) < totalAccounts {
		now := c.Now()
		acc := &domain.Account{ID: uuid.New(), Currency: cfg.BaseCurrency, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		err := st.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.CreateAccount(ctx, acc); err != nil {
				return err
			}
			_, err := l.RecordEntry(ctx, tx, ledger.EntryRequest{
				AccountID: acc.ID,
				Type:      domain.EntryCreditPayout,
				Amount:    amount,
				Currency:  cfg.BaseCurrency,
				SourceRef: "seed",
			})
			return err
		})
		if err != nil {
			zl.Fatal("seeding failed", zap.Int("created", len(ids)), zap.Error(err))
		}
		ids = append(ids, acc.ID)
	}

	if err := l.VerifyAll(ctx); err != nil {
		zl.Fatal("ledger verification failed after seeding", zap.Error(err))
	}
	zl.Info("seeded accounts", zap.Int("accounts", len(ids)), zap.String("balance", amount.String()), zap.Duration("took", time.Since(start)))
	writeIDs(ids, zl)
}

func writeIDs(ids []uuid.UUID, zl *zap.Logger) {
	f, err := os.Create(outFile)
	if err != nil {
		zl.Fatal("unable to write account ids", zap.Error(err))
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, id := range ids {
		_, _ = w.WriteString(id.String() + "\n")
	}
	if err := w.Flush(); err != nil {
		zl.Fatal("unable to write account ids", zap.Error(err))
	}
	zl.Info("account ids written", zap.String("file", outFile))
}
