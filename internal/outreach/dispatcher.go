package outreach

import (
	"context"
	"fmt"
	"time"

	"leadpulse_backend/internal/events"
	"leadpulse_backend/internal/governor"
	"leadpulse_backend/platform/logger"

	"golang.org/x/time/rate"
)

// DeadLetterStore persists permanently failed actions for review.
type DeadLetterStore interface {
	Add(ctx context.Context, action governor.Action, reason string, at time.Time) error
}

// Dispatcher delivers authorized actions through channel senders. Every
// attempt runs under a bounded timeout; a transient failure gets exactly
// one retry, then the action is dead-lettered.
type Dispatcher struct {
	senders    map[governor.Channel]ChannelSender
	limiter    *rate.Limiter
	timeout    time.Duration
	retryDelay time.Duration
	deadLetter DeadLetterStore
	bus        events.Bus
	log        *logger.Logger
}

// NewDispatcher wires a dispatcher. ratePerSecond paces outbound calls
// across all channels so a burst of rule fires cannot flood a platform.
func NewDispatcher(senders map[governor.Channel]ChannelSender, ratePerSecond float64, timeout time.Duration, deadLetter DeadLetterStore, bus events.Bus, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		senders:    senders,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		timeout:    timeout,
		retryDelay: time.Second,
		deadLetter: deadLetter,
		bus:        bus,
		log:        log,
	}
}

// Dispatch delivers one action. The returned error reflects the final
// outcome; a dead-lettered action still returns the failure so callers can
// count it, but it is never retried again.
func (d *Dispatcher) Dispatch(ctx context.Context, action governor.Action, recipient string) error {
	sender, ok := d.senders[action.Channel]
	if !ok {
		err := fmt.Errorf("no sender for channel %s", action.Channel)
		d.bury(ctx, action, err)
		return err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	externalID, err := d.attempt(ctx, sender, action, recipient)
	if err != nil && !IsPermanent(err) {
		if d.log != nil {
			d.log.DispatchFailure(string(action.Channel), action.LeadID.String(), false, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryDelay):
		}
		externalID, err = d.attempt(ctx, sender, action, recipient)
	}
	if err != nil {
		d.bury(ctx, action, err)
		return err
	}

	if d.bus != nil {
		d.bus.Publish(ctx, events.ActionDispatched{
			BaseEvent:  events.NewBaseEvent(),
			ActionID:   action.ID,
			LeadID:     action.LeadID,
			TenantID:   action.TenantID,
			Channel:    string(action.Channel),
			ExternalID: externalID,
			RuleID:     action.RuleID,
		})
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, sender ChannelSender, action governor.Action, recipient string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return sender.Send(attemptCtx, action, recipient)
}

func (d *Dispatcher) bury(ctx context.Context, action governor.Action, cause error) {
	if d.log != nil {
		d.log.DispatchFailure(string(action.Channel), action.LeadID.String(), true, cause)
	}
	if d.deadLetter != nil {
		if err := d.deadLetter.Add(ctx, action, cause.Error(), time.Now().UTC()); err != nil && d.log != nil {
			d.log.DatabaseError("dead_letter_add", err)
		}
	}
	if d.bus != nil {
		d.bus.Publish(ctx, events.ActionDeadLettered{
			BaseEvent: events.NewBaseEvent(),
			ActionID:  action.ID,
			LeadID:    action.LeadID,
			TenantID:  action.TenantID,
			Channel:   string(action.Channel),
			Reason:    cause.Error(),
		})
	}
}
