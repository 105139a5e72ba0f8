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
	"leadpulse_backend/internal/leads"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/leads/scoring"
	"leadpulse_backend/internal/outreach"
	"leadpulse_backend/internal/pipeline"
	"leadpulse_backend/internal/scheduler"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/internal/tenantcfg"
	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/db"
	"leadpulse_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	tenants, err := tenantcfg.Load(cfg.GetTenantConfigDir(), cfg)
	if err != nil {
		log.Error("failed to load tenant configuration", "error", err)
		panic("failed to load tenant configuration: " + err.Error())
	}

	// Worker-side send path: sequence steps and sweep-driven churn go
	// through the same governor and dispatcher as the API binary.
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

	leadService := leads.NewService(leadsRepo, pipe, model, log)

	tickDispatcher, err := scheduler.NewTickDispatcher(cfg, cfg.GetInactivityDays(), log)
	if err != nil {
		log.Error("failed to initialize tick dispatcher", "error", err)
		panic("failed to initialize tick dispatcher: " + err.Error())
	}
	defer func() { _ = tickDispatcher.Close() }()
	go tickDispatcher.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, sequencer, leadService, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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
