package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/remitledger/internal/api"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/config"
	"github.com/punchamoorthee/remitledger/internal/ledger"
	"github.com/punchamoorthee/remitledger/internal/logger"
	"github.com/punchamoorthee/remitledger/internal/notify"
	"github.com/punchamoorthee/remitledger/internal/provider"
	"github.com/punchamoorthee/remitledger/internal/rates"
	"github.com/punchamoorthee/remitledger/internal/service"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"github.com/punchamoorthee/remitledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl := logger.New(cfg.Env)
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := clock.Real{}

	// Storage
	var st store.Store
	if cfg.UsesMemoryStore() {
		zl.Warn("running on the in-memory store; data is lost on exit")
		st = store.NewMemory()
	} else {
		if err := store.Migrate(cfg.DBSource, zl); err != nil {
			zl.Fatal("migrations failed", zap.Error(err))
		}
		pool, err := store.Connect(ctx, cfg.DBSource)
		if err != nil {
			zl.Fatal("unable to connect to database", zap.Error(err))
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
	}

	// Redis backs the rate cache and the sweeper lock when configured.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Fatal("unable to reach redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var rateSource rates.Provider = rates.DefaultStatic()
	if cfg.RateSourceURL != "" {
		var live rates.Provider = rates.NewHTTPSource(cfg.RateSourceURL, 5*time.Second)
		if rdb != nil {
			live = rates.NewCached(live, rdb, cfg.RateCacheTTL, zl)
		}
		rateSource = rates.NewFallback(zl, live, rates.DefaultStatic())
	}

	var notifier notify.Publisher = notify.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaNotificationTopic)
		defer kp.Close()
		notifier = kp
	}

	// Providers call back through the same verifier the webhook endpoint uses.
	verifier := webhook.NewVerifier(cfg.WebhookSecrets, cfg.WebhookTolerance, c)
	queue := provider.NewEventQueue(zl)
	providers, err := provider.New(provider.Config{
		Payment:         cfg.PaymentProvider,
		Payout:          cfg.PayoutProvider,
		PaymentBehavior: provider.Behavior{Delay: cfg.SandboxDelay},
		PayoutBehavior:  provider.Behavior{Delay: cfg.SandboxDelay},
		Breaker:         provider.DefaultBreakerConfig(),
	}, queue, c, verifier, zl)
	if err != nil {
		zl.Fatal("provider setup failed", zap.Error(err))
	}

	orchestrator := service.New(service.Deps{
		Store:     st,
		Ledger:    ledger.New(st, c, zl),
		Guard:     webhook.NewGuard(st, c, zl, cfg.WebhookMaxAttempts),
		Payment:   providers.Payment,
		Payout:    providers.Payout,
		Reporters: providers.Reporters,
		Rates:     rateSource,
		Notifier:  notifier,
		Logger:    zl,
		Clock:     c,
	}, service.PolicyFromConfig(cfg))

	handler := api.NewHandler(orchestrator, verifier, zl)

	// Background work
	var locker worker.Locker = worker.LocalLocker{}
	if rdb != nil {
		locker = worker.NewRedisLocker(rdb, "remitledger:sweeper", 2*cfg.SweepInterval, zl)
	}
	go worker.NewSweeper(orchestrator, locker, c, cfg.SweepInterval, zl).Run(ctx)
	go queue.Run(ctx, time.Second, c.Now, handler.Sink())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, api.NewAuthenticator(cfg.JWTSecret)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
