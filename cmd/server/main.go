package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/api"
	"github.com/carepulse/notify/internal/api/handler"
	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/config"
	"github.com/carepulse/notify/internal/db"
	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/event"
	"github.com/carepulse/notify/internal/metrics"
	"github.com/carepulse/notify/internal/queue"
	"github.com/carepulse/notify/internal/ratelimiter"
	"github.com/carepulse/notify/internal/repository"
	"github.com/carepulse/notify/internal/retry"
	"github.com/carepulse/notify/internal/sender"
	"github.com/carepulse/notify/internal/service"
	"github.com/carepulse/notify/internal/worker"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg := config.Load()
	ctx := context.Background()
	healthChecks := make(map[string]handler.Check)

	// ---- storage ----
	// Without DATABASE_URL the service runs on the in-memory repository;
	// useful for development and single-node deployments.
	var repo repository.NotificationRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
		repo = repository.NewPgRepository(pool)
		healthChecks["database"] = pool.Ping
	} else {
		logger.Info("DATABASE_URL not set, using in-memory repository")
		repo = repository.NewMemoryRepository()
	}

	// ---- rate limit store ----
	var limitStore ratelimiter.Store
	memStore := ratelimiter.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close() //nolint:errcheck
		limitStore = ratelimiter.NewRedisStore(rdb, "")
		healthChecks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		logger.Info("rate limit counters backed by redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("REDIS_ADDR not set, rate limit counters held in memory")
		limitStore = memStore
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := event.NewBus(logger)

	q := queue.New(queueConfig(cfg))

	breakerMetricHook := m.BreakerStateHook()
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:  cfg.BreakerFailureThreshold,
		SuccessThreshold:  cfg.BreakerSuccessThreshold,
		VolumeThreshold:   cfg.BreakerVolumeThreshold,
		MonitoringWindow:  cfg.BreakerWindow,
		ResetTimeout:      cfg.BreakerResetTimeout,
		BackoffMultiplier: cfg.BreakerBackoffFactor,
		MaxResetTimeout:   cfg.BreakerMaxResetTimeout,
		OnStateChange: func(key string, from, to breaker.State) {
			breakerMetricHook(key, from, to)
			bus.Publish(event.Event{
				Topic:  event.TopicBreakerState,
				Key:    key,
				Detail: from.String() + " -> " + to.String(),
			})
		},
	})

	limiter := ratelimiter.NewLimiter(limitStore, ratelimiter.Limits{
		Burst:     cfg.RateLimitBurst,
		PerMinute: cfg.RateLimitPerMinute,
		PerHour:   cfg.RateLimitPerHour,
		PerDay:    cfg.RateLimitPerDay,
	}, logger)
	limiter.OnReject = m.RateLimitRejectHook()

	pacer := ratelimiter.NewChannelPacer(cfg.PacerRate)

	strategies := retry.NewRegistry()
	executions := retry.NewExecutionStore(cfg.ExecutionRetention)
	executor := retry.NewExecutor(strategies, executions, cfg.MaxConcurrentExecutions, logger, m.RetryHooks())
	m.TrackRetriesInFlight(executor.InFlight)

	senders := sender.NewRegistry(buildSenders(cfg, logger))

	var renderer sender.Renderer
	if cfg.TemplatesDir != "" {
		r, err := sender.NewTemplateRenderer(cfg.TemplatesDir)
		if err != nil {
			logger.Fatal("failed to load templates", zap.Error(err))
		}
		renderer = r
		logger.Info("templates loaded", zap.String("dir", cfg.TemplatesDir))
	}

	svc := service.NewNotificationService(repo, q, breakers, bus, logger)

	// Delivery lifecycle events feed the structured log stream.
	subscribeLogging(bus, logger)

	// ---- background workers ----
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSent, onFailed, onRequeued := m.DispatchHooks()
	dispatcher := worker.NewDispatcher(
		worker.Config{
			PollInterval: cfg.DispatchInterval,
			BatchSize:    cfg.DispatchBatch,
		},
		q, repo, senders, renderer, limiter, pacer, breakers, executor, bus, logger,
		worker.Hooks{
			OnSent:     onSent,
			OnFailed:   onFailed,
			OnRequeued: onRequeued,
			OnDepths:   m.ObserveQueueDepths,
		},
	)

	scheduler := worker.NewScheduler(repo, svc, logger, cfg.SchedulerInterval)

	// Re-enqueue whatever a previous process left queued or mid-dispatch
	// before the dispatcher starts draining.
	scheduler.Recover(ctx)

	tasks := []worker.Task{
		{Name: "execution_store", Run: func(context.Context) (int, error) {
			return executions.Sweep(), nil
		}},
		{Name: "terminal_retention", Run: func(ctx context.Context) (int, error) {
			return repo.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-cfg.RetentionPeriod))
		}},
	}
	if cfg.RedisAddr == "" {
		// Redis expires its own buckets; the in-memory store needs a sweep.
		tasks = append(tasks, worker.Task{Name: "rate_limit_buckets", Run: func(context.Context) (int, error) {
			return memStore.Sweep(), nil
		}})
	}
	maintenance := worker.NewMaintenance(logger, cfg.SweepInterval, tasks...)

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){dispatcher.Run, scheduler.Run, maintenance.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(workerCtx)
		}(run)
	}

	// ---- HTTP server ----
	health := handler.NewHealthHandler(version, healthChecks)
	router := api.NewRouter(svc, strategies, executions, reg, health, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal all workers to stop and wait for in-flight dispatches.
	cancelWorkers()
	wg.Wait()

	logger.Info("server stopped cleanly")
}

func queueConfig(cfg *config.Config) queue.Config {
	lanes := make(map[domain.Priority]int, len(cfg.LaneCapacity))
	for name, capacity := range cfg.LaneCapacity {
		lanes[domain.Priority(name)] = capacity
	}
	return queue.Config{
		LaneCapacity:      lanes,
		AggregateCapacity: cfg.AggregateCapacity,
	}
}

// buildSenders maps every channel to its outbound sender. With a provider
// URL configured all channels POST to channel-specific endpoints; otherwise
// deliveries are logged, which keeps local development self-contained.
func buildSenders(cfg *config.Config, logger *zap.Logger) map[domain.Channel]sender.Sender {
	channels := []domain.Channel{
		domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush,
		domain.ChannelWebhook, domain.ChannelSlack, domain.ChannelInApp,
	}

	// These channels confirm delivery in the 202 itself; email, sms and
	// push only accept the message for later delivery.
	syncAck := map[domain.Channel]bool{
		domain.ChannelWebhook: true,
		domain.ChannelSlack:   true,
		domain.ChannelInApp:   true,
	}

	senders := make(map[domain.Channel]sender.Sender, len(channels))
	for _, ch := range channels {
		if cfg.ProviderBaseURL == "" {
			senders[ch] = sender.NewLogSender(logger)
			continue
		}
		senders[ch] = sender.NewHTTPSender(
			cfg.ProviderBaseURL+"/"+string(ch),
			cfg.ProviderTimeout,
			cfg.ProviderAck || syncAck[ch],
		)
	}
	return senders
}

func subscribeLogging(bus *event.Bus, logger *zap.Logger) {
	bus.Subscribe(event.TopicSent, func(ev event.Event) {
		logger.Info("delivery event",
			zap.String("topic", string(ev.Topic)),
			zap.String("notification_id", ev.NotificationID),
			zap.String("channel", string(ev.Channel)),
		)
	})
	bus.Subscribe(event.TopicFailed, func(ev event.Event) {
		logger.Warn("delivery event",
			zap.String("topic", string(ev.Topic)),
			zap.String("notification_id", ev.NotificationID),
			zap.String("channel", string(ev.Channel)),
			zap.String("detail", ev.Detail),
		)
	})
	bus.Subscribe(event.TopicCancelled, func(ev event.Event) {
		logger.Info("delivery event",
			zap.String("topic", string(ev.Topic)),
			zap.String("notification_id", ev.NotificationID),
		)
	})
}
