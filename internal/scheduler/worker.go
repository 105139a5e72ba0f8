package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadpulse_backend/internal/leads"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/logger"

	"github.com/hibiken/asynq"
)

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	sequencer *sequences.Sequencer
	leads     *leads.Service
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sequencer *sequences.Sequencer, leadService *leads.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		mux:       mux,
		sequencer: sequencer,
		leads:     leadService,
		log:       log,
	}

	mux.HandleFunc(TaskSequenceTick, w.handleSequenceTick)
	mux.HandleFunc(TaskInactivitySweep, w.handleInactivitySweep)

	return w, nil
}

func (w *Worker) handleSequenceTick(ctx context.Context, task *asynq.Task) error {
	if w.sequencer == nil {
		return nil
	}

	if _, err := ParseSequenceTickPayload(task); err != nil {
		return err
	}

	// Runs advance against wall-clock time, not the enqueue time, so a tick
	// delivered late still sends every step that has come due since.
	return w.sequencer.Tick(ctx, time.Now().UTC())
}

func (w *Worker) handleInactivitySweep(ctx context.Context, task *asynq.Task) error {
	if w.leads == nil {
		return nil
	}

	payload, err := ParseInactivitySweepPayload(task)
	if err != nil {
		return err
	}

	churned, err := w.leads.SweepInactive(ctx, payload.InactivityDays, time.Now().UTC())
	if err != nil {
		return err
	}

	if churned > 0 {
		w.log.Info("inactivity sweep churned leads", "churned", churned, "inactivityDays", payload.InactivityDays)
	}

	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
