// Package main - точка входа сервиса мониторинга рисков студентов.
//
// Worker отвечает за:
// - Периодическую оценку рисков всей популяции студентов
// - Генерацию и доставку алертов наставникам
// - Пересчёт метрик дашборда
// - HTTP API для дашборда, оценок и алертов
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/alem-hub/student-risk-monitor/config"
	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/application/eventhandler"
	"github.com/alem-hub/student-risk-monitor/internal/application/query"
	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/messaging"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/notifier"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/scheduler"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/student-risk-monitor/internal/interface/http"
	"github.com/alem-hub/student-risk-monitor/internal/interface/http/handlers"
	"github.com/alem-hub/student-risk-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// storage - репозитории, за которыми стоит Postgres или память процесса.
type storage struct {
	records     student.RecordRepository
	assessments risk.AssessmentRepository
	alerts      notification.AlertRepository
	committer   command.BatchCommitter
}

// eventBus - общий интерфейс in-memory и Redis шины.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting student risk monitor",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОЛИТИКА РИСКОВ
	// ─────────────────────────────────────────────────────────────────────────
	policy, err := config.LoadPolicy(cfg.Evaluation.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to load risk policy: %w", err)
	}
	riskPolicy := cfg.Features.ApplyRules(policy.Risk)

	engine, err := risk.NewEngine(riskPolicy)
	if err != nil {
		return fmt.Errorf("invalid risk policy: %w", err)
	}
	generator, err := notification.NewGenerator(policy.Alerts, uuid.NewString)
	if err != nil {
		return fmt.Errorf("invalid alert policy: %w", err)
	}

	health := handlers.NewHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩЕ (PostgreSQL или память процесса)
	// ─────────────────────────────────────────────────────────────────────────
	var store storage
	if cfg.UsesPostgres() {
		log.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		store = storage{
			records:     postgres.NewRecordRepository(conn),
			assessments: postgres.NewAssessmentRepository(conn),
			alerts:      postgres.NewAlertRepository(conn),
			committer:   postgres.NewCycleCommitter(conn),
		}
		health.AddCheck("postgres", handlers.PingCheck(conn))
	} else {
		mem := memory.NewStore()
		if cfg.Evaluation.RecordsPath != "" {
			if mem, err = memory.LoadStore(cfg.Evaluation.RecordsPath); err != nil {
				return fmt.Errorf("failed to load records: %w", err)
			}
		}
		log.Warn("DATABASE_URL is empty, using in-memory store", "records", cfg.Evaluation.RecordsPath)
		store = storage{records: mem, assessments: mem, alerts: mem, committer: mem}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS: блокировки, кеш дашборда, шина событий
	// ─────────────────────────────────────────────────────────────────────────
	var (
		locker    command.StudentLocker = memory.NewKeyedLocker()
		dashCache dashboard.Store       = memory.NewDashboardStore(cfg.Redis.DashboardTTL)
		bus       eventBus
	)
	localBus := messaging.InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 4, Logger: log}

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = client.Close() }()

		cache := redis.NewCache(client, cfg.Redis.KeyPrefix)
		dashCache = redis.NewDashboardCache(cache, cfg.Redis.DashboardTTL)
		if cfg.Features.IsEnabled(config.FeatureDistributedLock) {
			locker = redis.NewStudentLocker(cache, cfg.Redis.LockTTL)
		}
		health.AddCheck("redis", handlers.PingCheck(cache))

		bus, err = messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         client,
			ChannelName:    cfg.Redis.EventChannel,
			LocalBusConfig: localBus,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		log.Info("Redis connection established")
	} else {
		log.Warn("Redis disabled, using in-process locks, cache and event bus")
		bus = messaging.NewInMemoryEventBus(localBus)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	evaluate := command.NewEvaluatePopulationHandler(command.EvaluatePopulationDeps{
		Records:     store.records,
		Assessments: store.assessments,
		Alerts:      store.alerts,
		Evaluator:   engine,
		Generator:   generator,
		Committer:   store.committer,
		Locker:      locker,
		Publisher:   bus,
		Logger:      log,
	}, command.EvaluatePopulationConfig{
		Workers:        cfg.Evaluation.Workers,
		PageSize:       cfg.Evaluation.PageSize,
		MaxFailureRate: cfg.Evaluation.MaxFailureRate,
		Timeout:        cfg.Evaluation.CycleTimeout,
		RetryAttempts:  cfg.Evaluation.RetryAttempts,
	})
	windowDays := policy.Dashboard.DropoutWindowDays
	rebuild := command.NewRebuildDashboardHandler(store.assessments, dashCache, windowDays, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ОБРАБОТЧИКИ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	var channel notification.Channel
	if cfg.Features.IsEnabled(config.FeatureAlertDelivery) {
		if channel, err = newChannel(cfg, log); err != nil {
			return err
		}
	}

	dispatcherCfg := messaging.DefaultDispatcherConfig(bus)
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)

	onRaised := eventhandler.NewOnAlertRaisedHandler(store.alerts, channel, dashCache, log, eventhandler.DefaultAlertRaisedConfig())
	onCompleted := eventhandler.NewOnEvaluationCompletedHandler(rebuild, log)
	if err := dispatcher.Register(shared.EventAlertRaised, "on_alert_raised", onRaised.Handle); err != nil {
		return err
	}
	if err := dispatcher.Register(shared.EventEvaluationCompleted, "on_evaluation_completed", onCompleted.Handle); err != nil {
		return err
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log, Timezone: cfg.App.Location})
	if cfg.Scheduler.Enabled {
		if err := registerJobs(sched, cfg, evaluate, rebuild, log); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	var (
		server    *httpapi.Server
		serverErr <-chan error
	)
	if cfg.HTTP.Enabled {
		httpCfg := httpapi.DefaultConfig()
		httpCfg.Host = cfg.HTTP.Host
		httpCfg.Port = cfg.HTTP.Port
		httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled
		httpCfg.APIKeys = cfg.HTTP.APIKeys
		httpCfg.TrustedProxies = cfg.HTTP.TrustedProxies

		server, err = httpapi.NewServer(httpCfg, httpapi.Dependencies{
			Risk: &handlers.RiskHandler{
				Dashboard:   query.NewGetDashboardHandler(store.assessments, dashCache, windowDays, cfg.Evaluation.DashboardMaxAge, log),
				Assessment:  query.NewGetAssessmentHandler(store.assessments, store.records),
				Assessments: query.NewListAssessmentsHandler(store.assessments),
				Alerts:      query.NewListAlertsHandler(store.alerts),
				Updates:     command.NewAlertFlagsHandler(store.alerts, bus, log),
				Evaluator:   evaluate,
			},
			Health: health,
			Logger: logger.New(logger.Options{
				Output: os.Stdout,
				Level:  logger.ParseLevel(cfg.Observability.LogLevel),
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create http server: %w", err)
		}
		if err := server.Listen(); err != nil {
			return err
		}
		serverErr = server.Serve()
		log.Info("http server listening", "addr", server.Addr())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("student risk monitor is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", "error", err)
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// registerJobs регистрирует периодические задачи.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	evaluate jobs.PopulationEvaluator,
	rebuild jobs.DashboardRebuilder,
	log *slog.Logger,
) error {
	evalSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.EvaluateSchedule)
	if err != nil {
		return fmt.Errorf("SCHEDULER_EVALUATE: %w", err)
	}
	dashSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.DashboardSchedule)
	if err != nil {
		return fmt.Errorf("SCHEDULER_DASHBOARD: %w", err)
	}

	evalJob := jobs.NewEvaluateRiskJob(evaluate, log, jobs.EvaluateRiskConfig{Timeout: cfg.Scheduler.EvaluateTimeout})
	if err := sched.Register(evalJob, evalSchedule); err != nil {
		return err
	}
	return sched.Register(jobs.NewRebuildDashboardJob(rebuild, log), dashSchedule)
}

// newChannel создаёт канал доставки алертов наставникам.
func newChannel(cfg *config.Config, log *slog.Logger) (notification.Channel, error) {
	switch cfg.Delivery.Channel {
	case "webhook":
		wh := notifier.DefaultWebhookConfig(cfg.Delivery.WebhookURL)
		wh.Secret = cfg.Delivery.WebhookSecret
		wh.Timeout = cfg.Delivery.WebhookTimeout
		wh.RequestsPerSecond = cfg.Delivery.RatePerSecond
		wh.Burst = cfg.Delivery.Burst
		wh.Logger = log
		ch, err := notifier.NewWebhookChannel(wh)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook channel: %w", err)
		}
		return ch, nil
	default:
		return notifier.NewLogChannel(log), nil
	}
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}
