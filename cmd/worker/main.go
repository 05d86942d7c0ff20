package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sync-engine/internal/channel"
	"github.com/kursadbilgin/sync-engine/internal/config"
	"github.com/kursadbilgin/sync-engine/internal/device"
	"github.com/kursadbilgin/sync-engine/internal/domain"
	infraredis "github.com/kursadbilgin/sync-engine/internal/infra/redis"
	"github.com/kursadbilgin/sync-engine/internal/infra/sqlite"
	"github.com/kursadbilgin/sync-engine/internal/infra/sqlite/migrations"
	"github.com/kursadbilgin/sync-engine/internal/interceptor"
	"github.com/kursadbilgin/sync-engine/internal/notify"
	"github.com/kursadbilgin/sync-engine/internal/observability"
	"github.com/kursadbilgin/sync-engine/internal/queue"
	"github.com/kursadbilgin/sync-engine/internal/repository"
	"github.com/kursadbilgin/sync-engine/internal/syncs"
	"github.com/kursadbilgin/sync-engine/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("sync-engine stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("sqlite initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sqlite underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	if err := migrations.Migrate(db); err != nil {
		// Another open connection holds the schema lock. Keep serving
		// on the current schema; the next start retries the upgrade.
		if errors.Is(err, domain.ErrUpgradeBlocked) {
			logger.Warn("schema upgrade blocked, continuing on current schema", zap.Error(err))
		} else {
			return fmt.Errorf("database migrations failed: %w", err)
		}
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	queueRepo := repository.NewGormQueueRepo(db)
	deviceRepo := repository.NewGormDeviceRepo(db)
	reminderRepo := repository.NewGormReminderRepo(db)
	actionRepo := repository.NewGormActionRepo(db)
	notificationRepo := repository.NewGormNotificationRepo(db)
	settingsRepo := repository.NewGormSettingsRepo(db)

	limiter, err := infraredis.NewReplayRateLimiter(rdb, cfg.ReplayRatePerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	responseCache, err := infraredis.NewResponseCache(rdb, time.Duration(cfg.CacheTTLSec)*time.Second)
	if err != nil {
		return fmt.Errorf("response cache initialization failed: %w", err)
	}

	hub := channel.NewHub(observability.WithComponent(logger, "channel"), metrics)
	defer hub.Close()

	offlineQueue, err := queue.NewOfflineQueue(
		queueRepo,
		resty.New(),
		limiter,
		metrics,
		observability.WithComponent(logger, "queue"),
	)
	if err != nil {
		return fmt.Errorf("offline queue initialization failed: %w", err)
	}

	identity, err := device.NewIdentity(
		settingsRepo,
		deviceRepo,
		resty.New(),
		cfg.APIBaseURL,
		cfg.DeviceDisplayName,
		func(ctx context.Context) domain.Capabilities {
			return domain.Capabilities{
				PushNotifications: hub.HasPages(),
				BackgroundSync:    true,
				DurableStorage:    sqlDB.PingContext(ctx) == nil,
			}
		},
		observability.WithComponent(logger, "device"),
	)
	if err != nil {
		return fmt.Errorf("device identity initialization failed: %w", err)
	}

	scheduler, err := notify.NewScheduler(
		reminderRepo,
		actionRepo,
		notificationRepo,
		hub,
		metrics,
		observability.WithComponent(logger, "notify"),
	)
	if err != nil {
		return fmt.Errorf("notification scheduler initialization failed: %w", err)
	}
	defer scheduler.Close()

	coordinator, err := syncs.NewCoordinator(
		hub,
		hub,
		offlineQueue,
		identity,
		actionRepo,
		deviceRepo,
		settingsRepo,
		resty.New(),
		cfg.APIBaseURL,
		time.Duration(cfg.SyncIntervalSec)*time.Second,
		metrics,
		observability.WithComponent(logger, "sync"),
	)
	if err != nil {
		return fmt.Errorf("sync coordinator initialization failed: %w", err)
	}

	monitor, err := syncs.NewNetworkMonitor(
		resty.New(),
		hub,
		coordinator,
		cfg.APIBaseURL,
		time.Duration(cfg.HealthIntervalSec)*time.Second,
		observability.WithComponent(logger, "network"),
	)
	if err != nil {
		return fmt.Errorf("network monitor initialization failed: %w", err)
	}

	proxy, err := interceptor.NewInterceptor(
		resty.New(),
		responseCache,
		offlineQueue,
		cfg.APIBaseURL,
		metrics,
		observability.WithComponent(logger, "interceptor"),
	)
	if err != nil {
		return fmt.Errorf("interceptor initialization failed: %w", err)
	}
	proxy.SetMutationAppliedHook(func(ctx context.Context) {
		if err := coordinator.RunCycle(ctx, "mutation-applied"); err != nil {
			logger.Warn("post-mutation sync cycle failed", zap.Error(err))
		}
	})

	w, err := worker.NewWorker(hub, coordinator, scheduler, identity, observability.WithComponent(logger, "worker"))
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	w.RegisterHandlers()

	// Reminder rows outlive the process; rebuild their timers before
	// anything else can race a due time.
	if err := scheduler.RearmOnWake(ctx); err != nil {
		logger.Error("failed to restore reminders on wake", zap.Error(err))
	}

	app := interceptor.NewApp(metrics, logger)
	interceptor.RegisterHealthRoutes(app, sqlDB, rdb)
	interceptor.RegisterLocalRoutes(app, interceptor.LocalDeps{
		Notifications: notificationRepo,
		Devices:       deviceRepo,
		Actions:       scheduler,
		Network:       monitor,
		Queue:         offlineQueue,
		Settings:      settingsRepo,
	})
	interceptor.RegisterRoutes(app, proxy)

	channelMux := http.NewServeMux()
	channelMux.Handle("/", hub.Handler())
	channelMux.Handle("/metrics", metrics.Handler())
	channelServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ChannelPort),
		Handler: channelMux,
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("proxy listening", zap.Int("port", cfg.ListenPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.ListenPort)); err != nil {
			return fmt.Errorf("proxy server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("channel listening", zap.Int("port", cfg.ChannelPort))
		if err := channelServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("channel server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error { return coordinator.Start(groupCtx) })
	g.Go(func() error { return monitor.Start(groupCtx) })
	g.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("proxy shutdown failed", zap.Error(err))
		}
		if err := channelServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("channel shutdown failed", zap.Error(err))
		}
		return nil
	})

	logger.Info("sync-engine started",
		zap.Int("proxyPort", cfg.ListenPort),
		zap.Int("channelPort", cfg.ChannelPort),
		zap.String("api", cfg.APIBaseURL),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("sync-engine stopped")
	return nil
}
