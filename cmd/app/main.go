package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doge-tipbot/internal/addrcheck"
	"doge-tipbot/internal/cache"
	"doge-tipbot/internal/config"
	"doge-tipbot/internal/convo"
	"doge-tipbot/internal/fb"
	"doge-tipbot/internal/httpserver"
	"doge-tipbot/internal/logging"
	"doge-tipbot/internal/metrics"
	"doge-tipbot/internal/poller"
	"doge-tipbot/internal/wa"
	"doge-tipbot/internal/wallet"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting doge-tipbot",
		"env", cfg.AppEnv,
		"messenger", cfg.Messenger,
		"store", cfg.StoreDriver,
		"coin", cfg.Coin.Code,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	redisClient, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
	}

	store, err := openStore(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	walletClient, err := wallet.New(ctx, wallet.Config{
		URL:      cfg.WalletRPCURL,
		User:     cfg.WalletRPCUser,
		Password: cfg.WalletRPCPassword,
		Coin:     cfg.Coin.Code,
		MinConf:  cfg.WalletMinConf,
		Timeout:  cfg.WalletTimeout,
	}, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init wallet client: %w", err)
	}
	defer walletClient.Close()
	if err := walletClient.Ping(ctx); err != nil {
		logger.Warn("wallet node unreachable at startup", "error", err)
	}

	checker := addrcheck.New(addrcheck.Config{
		BaseURL:       cfg.AddrCheckBaseURL,
		Timeout:       cfg.AddrCheckTimeout,
		AddressLength: cfg.Coin.AddressLength,
		AddressPrefix: cfg.Coin.AddressPrefix,
		BadCodes:      cfg.Coin.BadCheckCodes,
		CacheTTL:      cfg.AddrCheckCacheTTL,
	}, logger, metricRegistry, redisClient)

	engine := convo.New(store, checker, walletClient, nil, metricRegistry, logger, convo.EngineConfig{
		Coin:         cfg.Coin.Code,
		KnownCodes:   cfg.Coin.KnownCodes,
		HistoryLimit: cfg.Coin.HistoryLimit,
	})

	checks := map[string]httpserver.Pinger{
		"store":  store,
		"wallet": walletClient,
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}

	g, gctx := errgroup.WithContext(ctx)
	var pollDriver *poller.Poller

	switch cfg.Messenger {
	case config.MessengerFacebook:
		fbClient := fb.New(fb.Config{
			GraphURL:  cfg.FacebookGraphURL,
			PageID:    cfg.FacebookPageID,
			PageName:  cfg.FacebookPageName,
			UserToken: cfg.FacebookUserToken,
			Timeout:   cfg.FacebookTimeout,
		}, logger, metricRegistry, redisClient)
		engine.SetReplySink(fbClient)

		pollDriver = poller.New(fbClient, engine, redisClient, metricRegistry, logger, poller.Config{
			Interval:    cfg.PollInterval,
			Concurrency: cfg.PollConcurrency,
			SeenTTL:     cfg.SeenMessageTTL,
		})
		g.Go(func() error {
			return pollDriver.Run(gctx)
		})

	case config.MessengerWhatsApp:
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		checks["whatsapp"] = waClient

		engine.SetReplySink(waClient)
		waClient.SetMessageProcessor(engine)
		if err := waClient.Start(gctx); err != nil {
			return fmt.Errorf("start whatsapp client: %w", err)
		}
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, cfg.HTTPBasePath, cfg.AdminToken)
	deps := httpserver.Dependencies{Checks: checks}
	if pollDriver != nil {
		deps.Poller = pollDriver
	}
	httpSrv.SetDependencies(deps)

	g.Go(func() error {
		if err := httpSrv.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

// connectRedis returns nil when Redis is optional and unreachable.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Redis, error) {
	if cfg.RedisAddr == "" {
		if cfg.StoreDriver == config.StoreRedis {
			return nil, errors.New("REDIS_ADDR is required for the redis store")
		}
		return nil, nil
	}

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	if err := redisClient.Ping(ctx); err != nil {
		if cfg.StoreDriver == config.StoreRedis {
			_ = redisClient.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Warn("redis ping failed, continuing without cache", "error", err)
		_ = redisClient.Close()
		return nil, nil
	}
	return redisClient, nil
}
