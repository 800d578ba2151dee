// Package bootstrap assembles the process runtime shared by the commands:
// storage, clients, services, the coordinator and the scheduler.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commentguard/internal/alerting"
	"commentguard/internal/cache"
	"commentguard/internal/classifier"
	"commentguard/internal/config"
	"commentguard/internal/coordinator"
	"commentguard/internal/credentials"
	"commentguard/internal/database"
	"commentguard/internal/featureflags"
	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/notifications"
	"commentguard/internal/observability"
	"commentguard/internal/platform"
	"commentguard/internal/repository"
	"commentguard/internal/scheduler"
	"commentguard/internal/seed"
	"commentguard/internal/service"
	"commentguard/internal/similarity"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ApplySchema runs migrations according to DB_SCHEMA_MODE.
	ApplySchema bool
	// SeedDemo fills an empty development database with fake accounts.
	SeedDemo bool
}

// Runtime is every long-lived collaborator of one process.
type Runtime struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Accounts   repository.AccountRepository
	Comments   repository.CommentRepository
	Suspicious repository.SuspiciousRepository

	Moderation    *service.ModerationService
	Review        *service.ReviewService
	SuspiciousSvc *service.SuspiciousService
	Fraud         *service.FraudService
	Worker        *service.AccountWorker

	Coordinator *coordinator.Coordinator
	Scheduler   *scheduler.Scheduler
	Flags       *featureflags.Manager
	Hub         *notifications.Hub
	Notifier    *notifications.Notifier

	shutdownTracing func(context.Context) error
}

// InitRuntime connects storage and builds the service graph. ctx bounds startup
// work and is the parent of scheduled ticks.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "commentguard",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if opts.ApplySchema {
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	// Redis is optional: a nil client disables caching and the shared lock set.
	cache.InitRedis(cfg.RedisURL)
	rdb := cache.GetClient()

	var sealer *credentials.Sealer
	if cfg.CredentialsKey != "" {
		if sealer, err = credentials.NewSealer(cfg.CredentialsKey); err != nil {
			return nil, fmt.Errorf("credentials key: %w", err)
		}
	} else {
		middleware.Logger.Warn("CREDENTIALS_KEY not set, account tokens are read as plaintext")
	}

	if opts.SeedDemo {
		if _, err := seed.Run(ctx, db, seed.DefaultOptions(), sealer); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	alerter, err := alerting.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAlertChatID)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:          cfg,
		DB:              db,
		Redis:           rdb,
		Accounts:        repository.NewAccountRepository(db),
		Comments:        repository.NewCommentRepository(db),
		Suspicious:      repository.NewSuspiciousRepository(db),
		Flags:           featureflags.NewManager(cfg.FeatureFlags),
		Hub:             notifications.NewHub(),
		shutdownTracing: shutdownTracing,
	}

	var publisher notifications.Publisher = rt.Hub
	if rdb != nil {
		rt.Notifier = notifications.NewNotifier(rdb)
		publisher = rt.Notifier
	}

	decisions := repository.NewDecisionRepository(db)
	reviews := repository.NewReviewRepository(db)
	simRepo := repository.NewSimilarityRepository(db)
	tokens := service.NewTokenSource(sealer)

	client := platform.NewGraphClient(platform.GraphConfig{
		BaseURL:    cfg.PlatformBaseURL,
		Timeout:    time.Duration(cfg.PlatformTimeoutSeconds) * time.Second,
		MaxRetries: uint64(cfg.PlatformMaxRetries),
	})

	openaiAPI := classifier.NewOpenAIAPI(cfg.LLMAPIKey, cfg.LLMBaseURL)
	clsCfg := classifier.DefaultConfig(cfg.LLMModel)
	clsCfg.MaxInputRunes = cfg.ClassifyMaxInput
	cls := classifier.New(classifier.NewOpenAIClient(openaiAPI, cfg.LLMModel), clsCfg)
	embedder := similarity.NewOpenAIEmbedder(openaiAPI, cfg.EmbeddingModel, models.EmbeddingDimensions, cfg.EmbeddingBatchSize)

	executor := service.NewActionExecutor(rt.Comments, decisions, client, tokens)
	rt.SuspiciousSvc = service.NewSuspiciousService(rt.Suspicious, rt.Comments)
	rt.Fraud = service.NewFraudService(rt.Suspicious)
	rt.Moderation = service.NewModerationService(service.ModerationDeps{
		Accounts:   rt.Accounts,
		Comments:   rt.Comments,
		Decisions:  decisions,
		Reviews:    reviews,
		Similarity: simRepo,
		Classifier: cls,
		Embedder:   embedder,
		Suspicious: rt.SuspiciousSvc,
		Executor:   executor,
		Policy:     policy,
		Flags:      rt.Flags,
		Alerter:    alerter,
		Publisher:  publisher,
	})
	rt.Review = service.NewReviewService(rt.Accounts, rt.Comments, decisions, reviews, simRepo, executor, cls, publisher)

	syncSvc := service.NewSyncService(rt.Accounts, repository.NewPostRepository(db), rt.Comments, client, tokens, service.SyncConfig{
		DeepCheckWindow: cfg.SyncDeepCheckWindow,
		HybridWindow:    cfg.SyncHybridWindow,
		DeepSyncWindow:  cfg.SyncDeepSyncWindow,
	})
	rt.Worker = service.NewAccountWorker(rt.Accounts, rt.Comments, syncSvc, rt.Moderation, client, tokens)

	rt.Coordinator = coordinator.New(lockSet(cfg, rdb), cfg.PoolHeavyLimit, cfg.PoolLightLimit)
	rt.Scheduler = scheduler.New(ctx, rt.Accounts, rt.Coordinator)
	return rt, nil
}

func lockSet(cfg *config.Config, rdb *redis.Client) coordinator.LockSet {
	if cfg.LocksetBackend != "redis" {
		return coordinator.NewLocalLockSet()
	}
	if rdb == nil {
		middleware.Logger.Warn("LOCKSET_BACKEND=redis but Redis is unavailable, using a local lock set")
		return coordinator.NewLocalLockSet()
	}
	ttl := time.Duration(cfg.LockTTLMinutes) * time.Minute
	return coordinator.NewRedisLockSet(rdb, ttl)
}

// Triggers returns the periodic jobs: the fast hybrid poll, the hourly stats
// refresh and the nightly deep sync.
func (rt *Runtime) Triggers() []scheduler.Trigger {
	return []scheduler.Trigger{
		{Spec: rt.Config.ScheduleFastPoll, Job: rt.Worker.SyncJob(service.ModeHybrid)},
		{Spec: rt.Config.ScheduleHourly, Job: rt.Worker.StatsJob()},
		{Spec: rt.Config.ScheduleDeepSync, Job: rt.Worker.SyncJob(service.ModeDeep)},
	}
}

// StartScheduler registers the triggers and starts firing them.
func (rt *Runtime) StartScheduler() error {
	if err := rt.Scheduler.Add(rt.Triggers()...); err != nil {
		return err
	}
	rt.Scheduler.Start()
	return nil
}

// Close stops new ticks, waits for in-flight account runs, flushes the tracer
// and closes storage. Every step runs even when an earlier one fails.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	if rt.Scheduler != nil {
		select {
		case <-rt.Scheduler.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("scheduler stop: %w", ctx.Err()))
		}
	}
	if rt.Coordinator != nil {
		if err := rt.Coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain account runs: %w", err))
		}
	}
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush tracer: %w", err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	middleware.Logger.Info("runtime closed", slog.String("env", rt.Config.Env))
	return nil
}
