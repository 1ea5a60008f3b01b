package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/discount"
	"github.com/fjod/storefront/internal/grpcserver"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/session"
	"github.com/fjod/storefront/internal/stock"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	seedPath := flag.String("seed", "", "JSON file with catalog, listings and policies to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, *seedPath, zl); err != nil {
		zl.Fatal("storefront stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, seedPath string, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, zl)
	if err != nil {
		return err
	}
	defer store.Close()

	cat, closeCatalog, err := openCatalog(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeCatalog()

	if seedPath != "" {
		if err := loadSeed(ctx, seedPath, store, cat); err != nil {
			return err
		}
		zl.Info("seed data loaded", zap.String("path", seedPath))
	}

	m := metrics.New()
	guard := stock.NewGuard(cat, zl.Named("stock"))

	sessions, closeSessions, err := openSessions(ctx, cfg, guard, zl)
	if err != nil {
		return err
	}
	defer closeSessions()

	policies := discount.NewCachedPolicies(store, cfg.Pricing.PolicyCacheTTL)
	quotes := discount.NewService(store, cat, policies, zl.Named("discount"))
	checkoutSvc := checkout.NewService(store, cat, guard, m, zl.Named("checkout"))

	var queue payment.Queue
	if len(cfg.Kafka.Brokers) > 0 {
		kq := payment.NewKafkaQueue(cfg.Kafka.PaymentTopic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
		defer kq.Close()
		queue = kq
	} else {
		queue = payment.NewChannelQueue(cfg.Payment.QueueSize)
	}

	var gateway payment.Gateway = payment.NewFakeGateway()
	if cfg.Payment.GatewayURL != "" {
		gateway = payment.NewHTTPGateway(payment.HTTPGatewayConfig{
			BaseURL:     cfg.Payment.GatewayURL,
			Timeout:     cfg.Payment.AttemptTimeout,
			MaxFailures: cfg.Payment.BreakerFailures,
			OpenTimeout: cfg.Payment.BreakerOpen,
		})
	}
	pending := payment.NewPending()
	paymentSvc := payment.NewService(store, queue, pending, zl.Named("payment"))
	worker := payment.NewWorker(payment.WorkerConfig{
		AttemptTimeout: cfg.Payment.AttemptTimeout,
		MaxAttempts:    cfg.Payment.MaxAttempts,
		Backoff:        cfg.Payment.Backoff,
	}, queue, gateway, store, pending, m, zl.Named("payment-worker"))
	go worker.Run(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.Kafka.EventsTopic, cfg.Kafka.Brokers...)
		poller := publisher.NewOutboxPoller(store, writer, cfg.Outbox.Tick, zl.Named("outbox"))
		defer poller.Close()
		go poller.Run(ctx)
		zl.Info("outbox relay started", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		zl.Warn("no kafka brokers configured, outbox events stay in the store")
	}

	router := h.NewRouter(h.RouterConfig{
		SessionCookie:  cfg.Session.CookieName,
		SessionTTL:     cfg.Session.TTL,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	},
		h.NewCartHandler(store, quotes, m, zl.Named("http"), cfg.HTTP.RequestTimeout),
		h.NewOrdersHandler(checkoutSvc, paymentSvc, store, zl.Named("http"), cfg.HTTP.RequestTimeout),
		sessions, m, zl.Named("http"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		zl.Info("storefront listening", zap.String("port", cfg.HTTP.Port), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.GRPC.Port != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port %s: %w", cfg.GRPC.Port, err)
		}
		healthSrv := grpcserver.New(zl.Named("grpc"))
		defer healthSrv.Shutdown()
		go func() {
			if err := healthSrv.Serve(lis); err != nil {
				serverErr <- err
			}
		}()
		healthSrv.SetServing(true)
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	zl.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	zl.Info("server exited")
	return nil
}

func openStore(cfg *config.Config, zl *zap.Logger) (repository.Store, error) {
	if cfg.Storage == "memory" {
		zl.Warn("using in-memory storage, orders are lost on restart")
		return repository.NewMemoryStore(), nil
	}

	creds := &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds, zl.Named("repository"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	zl.Info("database migrations completed")
	return repo, nil
}

func openCatalog(ctx context.Context, cfg *config.Config, zl *zap.Logger) (catalog.Catalog, func(), error) {
	if cfg.Mongo.URI == "" {
		return catalog.NewMemoryCatalog(), func() {}, nil
	}

	mc, err := catalog.OpenMongoCatalog(ctx, catalog.MongoOptions{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
		MaxPoolSize:    cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		return nil, nil, err
	}
	zl.Info("connected to MongoDB catalog", zap.String("database", cfg.Mongo.Database))

	return mc, func() { _ = mc.Close(context.Background()) }, nil
}

func openSessions(ctx context.Context, cfg *config.Config, guard *stock.Guard, zl *zap.Logger) (session.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		return session.NewMemoryStore(guard), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	zl.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))

	store := session.NewRedisStore(client, guard, cfg.Session.TTL, cfg.Session.Jitter, zl.Named("session"))
	return store, func() { _ = client.Close() }, nil
}
