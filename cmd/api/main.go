package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadpulse_backend/internal/automation"
	"leadpulse_backend/internal/events"
	"leadpulse_backend/internal/governor"
	apphttp "leadpulse_backend/internal/http"
	"leadpulse_backend/internal/http/router"
	"leadpulse_backend/internal/identity"
	"leadpulse_backend/internal/ingest"
	"leadpulse_backend/internal/leads"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/leads/scoring"
	"leadpulse_backend/internal/outreach"
	"leadpulse_backend/internal/pipeline"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/internal/tenantcfg"
	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/db"
	"leadpulse_backend/platform/logger"
	"leadpulse_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// The governor's rolling outreach counters live in redis, so the API
	// cannot run without it.
	if cfg.GetRedisURL() == "" {
		panic("REDIS_URL is required")
	}
	redisOpt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		panic("failed to parse redis url: " + err.Error())
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Tenant configuration: automation rules, sequences, templates, and
	// governor limits, loaded once at startup.
	tenants, err := tenantcfg.Load(cfg.GetTenantConfigDir(), cfg)
	if err != nil {
		log.Error("failed to load tenant configuration", "error", err)
		panic("failed to load tenant configuration: " + err.Error())
	}
	log.Info("tenant configuration loaded", "tenants", len(tenants.Tenants()))

	// ========================================================================
	// Domain Wiring (Composition Root)
	// ========================================================================

	approvalQueue := governor.NewRepository(pool)
	gov := governor.New(rdb, approvalQueue, eventBus, log)

	senders := map[governor.Channel]outreach.ChannelSender{}
	if cfg.IsEmailEnabled() {
		senders[governor.ChannelEmail] = outreach.NewEmailSender(cfg)
	}
	if dmSender := outreach.NewDMGatewaySender(cfg); dmSender != nil {
		senders[governor.ChannelDM] = dmSender
	}

	deadLetters := outreach.NewRepository(pool)
	dispatcher := outreach.NewDispatcher(senders, cfg.GetDispatchRatePerSecond(), cfg.GetDispatchTimeout(), deadLetters, eventBus, log)

	leadsRepo := leads.NewRepository(pool)
	outreachService := outreach.NewService(tenants, tenants, gov, dispatcher, leadsRepo)

	runRepo := sequences.NewRepository(pool)
	sequencer := sequences.NewSequencer(runRepo, runRepo, outreachService, tenants, eventBus, log)

	model := scoring.NewModel(cfg)
	thresholds := domain.Thresholds{Warm: cfg.GetWarmThreshold(), Hot: cfg.GetHotThreshold()}
	fireLog := automation.NewRepository(pool)

	pipe := pipeline.New(leadsRepo, model, thresholds, tenants, fireLog, eventBus, cfg, log)

	var notifier pipeline.Notifier
	if cfg.IsEmailEnabled() && cfg.GetTeamNotifyAddress() != "" {
		notifier = outreach.NewTeamNotifier(cfg)
	}
	pipe.SetExecutor(pipeline.NewExecutor(pipe, outreachService, sequencer, notifier, log))
	pipe.Start(ctx)
	defer func() { _ = pipe.Close() }()

	// ========================================================================
	// HTTP Modules
	// ========================================================================

	registry := identity.NewRegistry(identity.NewRepository(pool), eventBus, log)

	var archiver ingest.Archiver
	if cfg.IsArchiveEnabled() {
		minioArchiver, err := ingest.NewMinIOArchiver(ctx, cfg)
		if err != nil {
			log.Error("failed to initialize raw event archive", "error", err)
			panic("failed to initialize raw event archive: " + err.Error())
		}
		archiver = minioArchiver
		log.Info("raw event archive enabled", "bucket", cfg.GetMinioBucketRawEvents())
	}

	ingestModule := ingest.NewModule(pool, registry, pipe, archiver, cfg, val, log)
	leadsModule := leads.NewModule(pool, pipe, model, val, log)
	leadsModule.RegisterHandlers(eventBus)
	leadsModule.Service().SetActionCounters(approvalQueue, deadLetters)
	sequencesModule := sequences.NewModule(sequencer, runRepo, tenants, val)
	outreachModule := outreach.NewModule(pool, outreachService, approvalQueue)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			ingestModule,
			leadsModule,
			sequencesModule,
			outreachModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		// The deferred pipeline Close drains in-flight engagements before
		// the pool goes away.
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
