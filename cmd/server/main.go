package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/api"
	"github.com/brightloom/notifyd/internal/breaker"
	"github.com/brightloom/notifyd/internal/channel"
	"github.com/brightloom/notifyd/internal/config"
	"github.com/brightloom/notifyd/internal/dispatch"
	"github.com/brightloom/notifyd/internal/observ"
	"github.com/brightloom/notifyd/internal/ratelimit"
	"github.com/brightloom/notifyd/internal/scheduler"
	"github.com/brightloom/notifyd/internal/store"
	"github.com/brightloom/notifyd/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notifyd core",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, store.PostgresConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	logger.Info("database connection established", zap.String("database", cfg.DBName))

	var rlBackend ratelimit.Backend
	if cfg.RateLimitBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to local rate limit backend", zap.Error(err))
			rlBackend = ratelimit.NewLocalBackend()
		} else {
			rlBackend = ratelimit.NewRedisBackend(rdb)
			logger.Info("rate limiter backed by redis", zap.String("host", cfg.RedisHost))
		}
	} else {
		rlBackend = ratelimit.NewLocalBackend()
	}
	limiter := ratelimit.New(pg, rlBackend, cfg.DefaultRateLimitPerMin, logger)

	outboundTimeout := time.Duration(cfg.OutboundTimeoutS) * time.Second
	httpClient := &http.Client{Timeout: outboundTimeout}

	emailAdapter := channel.NewEmailAdapter(channel.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, pg, logger)

	telegramAdapter := channel.NewTelegramAdapter(cfg.TelegramBotToken, pg, httpClient, logger)

	smsAdapter := channel.NewSMSAdapter(channel.SMSConfig{
		GatewayURL: cfg.SMSGatewayURL,
		Username:   cfg.SMSGatewayUsername,
		Password:   cfg.SMSGatewayPassword,
		From:       cfg.SMSFromNumber,
	}, pg, httpClient, logger)

	whatsappAdapter := channel.NewWhatsAppAdapter(pg, logger)

	protectedEmail := breaker.NewProtectedAdapter(emailAdapter, breaker.New(breaker.DefaultConfig("email"), logger), logger)
	protectedTelegram := breaker.NewProtectedAdapter(telegramAdapter, breaker.New(breaker.DefaultConfig("telegram"), logger), logger)
	protectedSMS := breaker.NewProtectedAdapter(smsAdapter, breaker.New(breaker.DefaultConfig("sms"), logger), logger)
	protectedWhatsApp := breaker.NewProtectedAdapter(whatsappAdapter, breaker.New(breaker.DefaultConfig("whatsapp"), logger), logger)

	router := channel.NewRouter(logger, pg, protectedEmail, protectedTelegram, protectedSMS, protectedWhatsApp)

	webhookTimeout := time.Duration(cfg.OutboundTimeoutS) * time.Second
	webhooks := webhook.New(cfg.WebhookSecret, webhookTimeout, logger)

	pool := dispatch.NewPool(cfg.WorkerCount, cfg.WorkerCount*10, logger)
	dispatcher := dispatch.New(pg, router, webhooks, pool, logger)

	sched := scheduler.New(pg, dispatcher, webhooks,
		time.Duration(cfg.RetryPollIntervalS)*time.Second,
		time.Duration(cfg.LeaseTimeoutS)*time.Second,
		cfg.RetryBatchLimit, logger)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go sched.Run(schedulerCtx)

	logger.Info("retry scheduler started",
		zap.Int("poll_interval_s", cfg.RetryPollIntervalS),
		zap.Int("batch_limit", cfg.RetryBatchLimit))

	handler := api.NewHandler(logger, dispatcher, router, pg)
	r := api.NewRouter(handler, limiter, logger, outboundTimeout)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		schedulerCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		pool.Shutdown(shutdownCtx)

		logger.Info("server stopped gracefully")
	}

	return nil
}
