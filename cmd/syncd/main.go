package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrosync/internal/api"
	"agrosync/internal/cache"
	"agrosync/internal/config"
	"agrosync/internal/events"
	"agrosync/internal/logging"
	"agrosync/internal/metrics"
	"agrosync/internal/queue"
	"agrosync/internal/store"
	"agrosync/internal/syncer"
	"agrosync/internal/transport"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	metrics.Register()

	st, err := store.New(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	subscribeNotifications(bus, logger)

	partitions := buildPartitionStore(ctx, cfg, logger)
	classifier := cache.NewClassifier(cfg.Cache.AllowedOrigins, cfg.Cache.APIPrefixes, cfg.Cache.StaticAssets, cfg.Cache.ImageExtensions)
	cacheManager := cache.NewManager(partitions, classifier, cfg.Remote.BaseURL, cfg.Cache.Version, cfg.Cache.StaticAssets, loadOfflinePage(cfg, logger), nil, logger)

	// Install is best-effort at boot: the daemon may start offline, in
	// which case old partitions keep serving and assets are fetched on
	// first use.
	if err := cacheManager.Install(ctx); err != nil {
		logger.Warn().Err(err).Msg("Cache install skipped, keeping existing partitions")
	}

	q := queue.New(st, logger)
	go q.StartCleanup(ctx, cfg.Sync.CleanupInterval.Std(), cfg.Sync.RetentionDays)

	monitor := transport.NewMonitor(cfg.Remote.BaseURL, cfg.Remote.HealthPath, cfg.Remote.ProbeInterval.Std(), bus, logger)
	go monitor.Start(ctx)

	deliverer := transport.NewHTTPDeliverer(cfg.Remote.BaseURL, cfg.Remote.SyncPath, cfg.Remote.Timeout.Std(), logger)
	coordinator := syncer.NewCoordinator(q, st, deliverer, monitor, bus, syncer.Options{
		Retry: syncer.RetryPolicy{
			MaxRetries: cfg.Sync.MaxRetries,
			Backoff:    cfg.Sync.RetryBackoff.Std(),
		},
		ItemDelay:     cfg.Sync.ItemDelay.Std(),
		DrainInterval: cfg.Sync.DrainInterval.Std(),
		StaleAfter:    cfg.Sync.StaleAfter.Std(),
	}, logger)

	if err := coordinator.Rehydrate(ctx); err != nil {
		return err
	}
	go coordinator.Run(ctx)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, cfg.Monitoring, coordinator, st, cacheManager, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, closer, err
	}
	logger := logging.Component(baseLogger, "syncd")

	return cfg, &logger, closer, nil
}

func buildPartitionStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) cache.PartitionStore {
	memory := cache.NewMemoryPartitionStore()
	if !cfg.Redis.Enabled {
		logger.Info().Msg("Redis disabled, using in-memory cache partitions")
		return memory
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unreachable at boot, failover store will retry")
	}

	return cache.NewFailoverPartitionStore(cache.NewRedisPartitionStore(client), memory, logger)
}

func loadOfflinePage(cfg *config.Config, logger *zerolog.Logger) []byte {
	if cfg.Cache.OfflinePage == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.Cache.OfflinePage)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Cache.OfflinePage).Msg("Failed to read offline page, using built-in")
		return nil
	}
	return data
}

// subscribeNotifications is the notification surface: the core publishes
// summaries here and never renders anything itself.
func subscribeNotifications(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventSyncCompleted, func(e *events.Event) error {
		logger.Info().RawJSON("summary", e.Payload).Msg("Sync completed")
		return nil
	})
	bus.Subscribe(events.EventItemFailed, func(e *events.Event) error {
		logger.Warn().RawJSON("item", e.Payload).Msg("Sync item failed")
		return nil
	})
}
