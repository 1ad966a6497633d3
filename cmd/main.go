package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/bidqueue"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/auction/guard"
	"github.com/cristianortiz/timedAuction/internal/auction/infra/events"
	"github.com/cristianortiz/timedAuction/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/timedAuction/internal/auction/infra/repository/postgres"
	"github.com/cristianortiz/timedAuction/internal/auction/infra/rest"
	wsinfra "github.com/cristianortiz/timedAuction/internal/auction/infra/websocket"
	"github.com/cristianortiz/timedAuction/internal/auction/lifecycle"
	"github.com/cristianortiz/timedAuction/internal/ledger"
	"github.com/cristianortiz/timedAuction/internal/shared/config"
	"github.com/cristianortiz/timedAuction/internal/shared/db"
	"github.com/cristianortiz/timedAuction/internal/shared/db/migrations"
	"github.com/cristianortiz/timedAuction/internal/shared/httpserver"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/cristianortiz/timedAuction/internal/shared/ratelimit"
	"github.com/cristianortiz/timedAuction/internal/shared/websocket"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// eventRetention is how long the AUCTION_EVENTS stream keeps notifications.
const eventRetention = 24 * time.Hour

func main() {
	logger := logger.GetLogger()
	defer logger.Sync()

	logger.Info("Starting timed auction server...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	checks := map[string]httpserver.HealthCheck{}

	// persistence and ledger
	var (
		store   domain.Store
		wallets domain.Ledger
		catalog domain.ItemCatalog
	)
	switch cfg.StoreDriver {
	case "postgres":
		logger.Info("Running database migrations...")
		if err := migrations.RunMigrations(config.GetEnv("MIGRATIONS_SOURCE", migrations.DefaultSource), cfg.DB.DSN()); err != nil {
			logger.Fatal("Database migration failed", zap.Error(err))
		}
		logger.Info("Database migrations completed successfully.")

		pool, err := db.GetPostgresDBPool(ctx, cfg.DB.DSN(), db.PoolOptions{})
		if err != nil {
			logger.Fatal("Database connection failed", zap.Error(err))
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		checks["postgres"] = pool.Ping

		store = postgres.NewStore(pool)
		catalog = postgres.NewCatalog(pool)
		wallets = ledger.NewPostgresLedger(pool)
	case "memory":
		logger.Warn("Using in-memory store and ledger, state is lost on restart and the item catalog is not checked")
		store = memory.NewStore()
		wallets = ledger.NewMemoryLedger()
	}

	// rate limiting, shared through redis when configured
	var bidLimiter, connLimiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb.Close)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		bidLimiter = ratelimit.NewRedis(rdb, "ratelimit:", cfg.RateLimit.BidLimit, cfg.RateLimit.Window)
		connLimiter = ratelimit.NewRedis(rdb, "ratelimit:", cfg.RateLimit.ConnectionLimit, cfg.RateLimit.Window)
		logger.Info("Rate limiting backed by redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		bids := ratelimit.NewMemory(cfg.RateLimit.BidLimit, cfg.RateLimit.Window, nil)
		conns := ratelimit.NewMemory(cfg.RateLimit.ConnectionLimit, cfg.RateLimit.Window, nil)
		bids.StartSweeper(ctx, cfg.RateLimit.SweepInterval)
		conns.StartSweeper(ctx, cfg.RateLimit.SweepInterval)
		bidLimiter, connLimiter = bids, conns
	}

	// notifications: the hub serves local sockets, NATS spreads events
	// across instances when configured
	hub := websocket.NewHub()
	hubNotifier := wsinfra.NewHubNotifier(hub)
	var notifier domain.Notifier = hubNotifier
	var relay *events.Relay
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("timed-auction"))
		if err != nil {
			logger.Fatal("NATS connection failed", zap.Error(err))
		}
		closers = append(closers, func() error { return nc.Drain() })
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New(nc.Status().String())
			}
			return nil
		}
		publisher, err := events.NewPublisher(ctx, nc, eventRetention)
		if err != nil {
			logger.Fatal("JetStream setup failed", zap.Error(err))
		}
		notifier = publisher
		relay = events.NewRelay(nc, hubNotifier)
	}

	engine := application.NewEngine(store, wallets, catalog, notifier, application.Options{
		CallTimeout:        cfg.CallTimeout,
		QueueRoutingWindow: cfg.QueueRoutingWindow,
		QueueRoutingBids:   cfg.QueueRoutingBids,
	})
	gate := guard.New(store, wallets, bidLimiter, connLimiter, nil)
	scheduler := lifecycle.NewScheduler(store, engine, lifecycle.Options{
		Interval:          cfg.Scheduler.Interval,
		EndingSoonOffsets: cfg.Scheduler.EndingSoonOffsets,
	})
	processor := bidqueue.NewProcessor(engine, gate, cfg.Queue.ConflictRetries, cfg.Queue.ConflictBackoff)
	queue := bidqueue.NewQueue(processor, notifier, bidqueue.Options{
		Workers:             cfg.Queue.Workers,
		MaxAttempts:         cfg.Queue.MaxAttempts,
		ConflictRetries:     cfg.Queue.ConflictRetries,
		ConflictBackoff:     cfg.Queue.ConflictBackoff,
		RetryBackoff:        cfg.Queue.RetryBackoff,
		HighValueThreshold:  cfg.Queue.HighValueThreshold,
		HighPriorityDelay:   cfg.Queue.HighPriorityDelay,
		MediumPriorityDelay: cfg.Queue.MediumPriorityDelay,
		CompletedRetention:  cfg.Queue.CompletedRetention,
	})
	checks["bid_queue"] = func(context.Context) error {
		if h := queue.Health(); !h.Healthy {
			return fmt.Errorf("%v", h.Issues)
		}
		return nil
	}

	wsHandler := wsinfra.NewAuctionWSHandler(engine, queue, gate, hub)
	server := httpserver.NewServer(httpserver.Options{
		ErrorHandler: rest.ErrorHandler,
		Checks:       checks,
	}, rest.NewAuctionHandler(engine, scheduler, queue, gate), wsHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { wsHandler.ListenForMessages(gctx); return nil })
	g.Go(func() error { scheduler.Run(gctx); return nil })
	g.Go(func() error {
		queue.Start(gctx)
		<-gctx.Done()
		queue.Stop()
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error { return server.Run(gctx, cfg.HTTPAddr) })

	runErr := g.Wait()
	var closeErr error
	for i := len(closers) - 1; i >= 0; i-- {
		closeErr = multierr.Append(closeErr, closers[i]())
	}
	if err := multierr.Combine(runErr, closeErr); err != nil {
		logger.Error("Server stopped with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
