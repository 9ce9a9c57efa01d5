package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/dispatch"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/handler"
	"github.com/kiwari-pos/kds/internal/logger"
	"github.com/kiwari-pos/kds/internal/memstore"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/notify"
	"github.com/kiwari-pos/kds/internal/presence"
	"github.com/kiwari-pos/kds/internal/router"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.L().Fatal("server exited", zap.Error(err))
	}
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.L()
	var cleanup closers
	defer cleanup.run()

	// Storage
	var (
		tx     fulfillment.Transactor
		staff  handler.AuthStore
		source metrics.Source
	)
	switch cfg.StoreDriver {
	case "memory":
		db := memstore.New()
		tx, staff, source = db, db.Queries(), db.Queries()
		log.Warn("using in-memory store, data is lost on restart")
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		cleanup.add(pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		tx = fulfillment.NewPgxTransactor(pool, nil)
		queries := database.New(pool)
		staff, source = queries, queries
		log.Info("connected to database")
	}

	// Presence
	var tracker presence.Tracker = presence.NewMemoryTracker(cfg.PresenceTTL)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		cleanup.add(func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		tracker = presence.NewRedisTracker(client, cfg.PresenceTTL)
		log.Info("presence tracked in redis")
	}

	// Notifications
	hub := notify.NewHub(64)
	var events notify.Publisher = hub
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("kds"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		cleanup.add(nc.Close)
		bridge := notify.NewNATSBridge(nc, cfg.NATSSubject, hub)
		if err := bridge.Start(); err != nil {
			return err
		}
		cleanup.add(func() { _ = bridge.Close() })
		events = bridge
		log.Info("events shared over nats", zap.String("subject", cfg.NATSSubject))
	}

	// Completion side effects
	dispatchOpts := []dispatch.Option{
		dispatch.WithWorkers(cfg.DispatchWorkers),
		dispatch.WithQueueSize(cfg.DispatchQueueSize),
	}
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		cleanup.add(func() { _ = conn.Close() })
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open amqp channel: %w", err)
		}
		evaluator, err := dispatch.NewAMQPDeliveryEvaluator(ch, cfg.DeliveryQueue)
		if err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithDeliveryEvaluator(evaluator))
		log.Info("delivery eligibility over amqp", zap.String("queue", cfg.DeliveryQueue))
	}
	if len(cfg.KafkaBrokers) > 0 {
		w := dispatch.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaCompletionTopic)
		cleanup.add(func() { _ = w.Close() })
		dispatchOpts = append(dispatchOpts, dispatch.WithCompletionLog(dispatch.NewKafkaCompletionLog(w)))
		log.Info("completion log on kafka", zap.String("topic", cfg.KafkaCompletionTopic))
	}
	dispatcher := dispatch.New(events, dispatchOpts...)

	svc := fulfillment.NewService(tx, tracker,
		fulfillment.WithPublisher(events),
		fulfillment.WithCompletionSink(dispatcher),
	)
	assigner := fulfillment.NewAssigner(svc, cfg.AssignInterval)
	limiter := middleware.NewStaffLimiter(cfg.HeartbeatRate, cfg.HeartbeatBurst)

	r := router.New(cfg, router.Deps{
		Staff:   staff,
		Service: svc,
		Metrics: metrics.NewEngine(source, cfg.LegacyStartOffset),
		Hub:     hub,
		Limiter: limiter,
	})

	// Background workers stop with ctx; the dispatcher drains its queue first.
	workers := make(chan struct{}, 3)
	goWorker := func(fn func(context.Context)) {
		go func() {
			fn(ctx)
			workers <- struct{}{}
		}()
	}
	goWorker(dispatcher.Run)
	goWorker(assigner.Run)
	goWorker(limiter.Run)

	// Request contexts derive from ctx so open event streams end on shutdown.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	for i := 0; i < cap(workers); i++ {
		select {
		case <-workers:
		case <-shutdownCtx.Done():
			return nil
		}
	}
	return nil
}
