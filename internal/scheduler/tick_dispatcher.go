package scheduler

import (
	"context"
	"time"

	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/logger"
)

const (
	defaultSequenceTickInterval    = time.Minute
	defaultInactivitySweepInterval = time.Hour
)

// TickDispatcher enqueues the periodic work the worker consumes: a sequence
// tick every minute and an inactivity sweep every hour. Both handlers are
// idempotent, so a duplicate enqueue after a restart is harmless.
type TickDispatcher struct {
	client         *Client
	tickInterval   time.Duration
	sweepInterval  time.Duration
	inactivityDays int
	log            *logger.Logger
}

func NewTickDispatcher(cfg config.SchedulerConfig, inactivityDays int, log *logger.Logger) (*TickDispatcher, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &TickDispatcher{
		client:         client,
		tickInterval:   defaultSequenceTickInterval,
		sweepInterval:  defaultInactivitySweepInterval,
		inactivityDays: inactivityDays,
		log:            log,
	}, nil
}

func (d *TickDispatcher) Close() error {
	if d == nil {
		return nil
	}
	return d.client.Close()
}

func (d *TickDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil {
		return
	}

	d.sweep(ctx)

	tick := time.NewTicker(d.tickInterval)
	defer tick.Stop()
	sweep := time.NewTicker(d.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			d.tick(ctx)
		case <-sweep.C:
			d.sweep(ctx)
		}
	}
}

func (d *TickDispatcher) tick(ctx context.Context) {
	err := d.client.EnqueueSequenceTick(ctx, SequenceTickPayload{ScheduledAt: time.Now().UTC()})
	if err != nil {
		d.log.Warn("sequence tick enqueue failed", "error", err)
	}
}

func (d *TickDispatcher) sweep(ctx context.Context) {
	err := d.client.EnqueueInactivitySweep(ctx, InactivitySweepPayload{
		InactivityDays: d.inactivityDays,
		ScheduledAt:    time.Now().UTC(),
	})
	if err != nil {
		d.log.Warn("inactivity sweep enqueue failed", "error", err)
	}
}
