package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"earn-bot/internal/alloc"
	"earn-bot/internal/cache"
	"earn-bot/internal/config"
	"earn-bot/internal/handlers"
	"earn-bot/internal/httpserver"
	"earn-bot/internal/ledger"
	"earn-bot/internal/logging"
	"earn-bot/internal/metrics"
	"earn-bot/internal/nowpay"
	"earn-bot/internal/repo"
	"earn-bot/internal/tg"
	"earn-bot/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting earn-bot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Store
	if cfg.DatabaseURL != "" {
		store, err = repo.NewPostgres(ctx, cfg.DatabaseURL, logger)
	} else {
		store, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	ipnCallbackURL := ""
	if cfg.PublicBaseURL != "" {
		ipnCallbackURL = cfg.PublicBaseURL + "/ipn/nowpayments"
	}
	nowpayClient := nowpay.New(nowpay.Config{
		BaseURL:        cfg.NowPayBaseURL,
		APIKey:         cfg.NowPayAPIKey,
		IPNCallbackURL: ipnCallbackURL,
		Timeout:        cfg.NowPayTimeout,
		MinAmountTTL:   cfg.MinAmountCacheTTL,
	}, logger, metricRegistry, redisClient)

	engine := ledger.New(store, metricRegistry, logger)
	allocator := alloc.New(store, nowpayClient, logger)
	go allocator.Run(ctx)

	tgBot, err := tg.New(cfg, engine, allocator, metricRegistry, logger)
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}

	ipnProcessor := handlers.NewIPNProcessor(engine, tgBot, metricRegistry, logger)
	ipnHandler := nowpay.NewWebhookHandler(logger, metricRegistry, cfg.NowPayIPNSecret, ipnProcessor)

	serverHandlers := httpserver.Handlers{PaymentIPN: ipnHandler}
	useWebhook := cfg.PublicBaseURL != ""
	if useWebhook {
		serverHandlers.TelegramWebhook = tgBot.WebhookHandler()
	}

	go func() {
		if useWebhook {
			webhookURL := cfg.PublicBaseURL + "/telegram/webhook"
			if err := tgBot.RegisterWebhook(ctx, webhookURL); err != nil {
				logger.Error("telegram webhook registration failed", "error", err)
				stop()
				return
			}
			logger.Info("telegram webhook registered", "url", webhookURL)
			tgBot.StartWebhook(ctx)
			return
		}
		logger.Info("telegram bot polling")
		tgBot.Start(ctx)
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, serverHandlers, cfg.HTTPBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Store:  store,
		Redis:  redisClient,
		NowPay: nowpayClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
