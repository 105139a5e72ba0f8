// Package governor is the single choke point for outbound actions: rolling
// per-contact channel caps plus the tenant's automation mode. Nothing sends
// without an Allow from here.
package governor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"leadpulse_backend/internal/events"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is an outbound delivery channel.
type Channel string

const (
	ChannelDM    Channel = "dm"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Mode is the tenant's automation mode.
type Mode string

const (
	// ModeAutonomous sends approved actions immediately.
	ModeAutonomous Mode = "autonomous"
	// ModeApproval queues every outbound action for manual review.
	ModeApproval Mode = "approval"
)

// Policy is the per-tenant configuration threaded through every Authorize
// call. There is no process-wide mode.
type Policy struct {
	Mode        Mode            `yaml:"mode" json:"mode"`
	Window      time.Duration   `yaml:"window" json:"window"`
	ChannelCaps map[Channel]int `yaml:"channelCaps" json:"channelCaps"`
	DefaultCap  int             `yaml:"defaultCap" json:"defaultCap"`
}

// Cap returns the per-contact cap for a channel within the rolling window.
func (p Policy) Cap(channel Channel) int {
	if limit, ok := p.ChannelCaps[channel]; ok {
		return limit
	}
	return p.DefaultCap
}

// Action is one outbound action awaiting authorization.
type Action struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	TenantID   uuid.UUID
	Channel    Channel
	TemplateID string
	Subject    string
	Message    string
	RuleID     string
	SequenceID string
}

// Decision is the authorization outcome. Queued means the action was placed
// on the manual approval queue rather than dropped.
type Decision struct {
	Allowed bool
	Queued  bool
	Reason  string
}

// ApprovalQueue persists actions held for manual review.
type ApprovalQueue interface {
	Enqueue(ctx context.Context, action Action, at time.Time) error
}

// Governor tracks rolling send counts in redis sorted sets keyed by
// (tenant, lead, channel); member scores are send timestamps, so the
// window slides with the injected now rather than redis server time.
type Governor struct {
	rdb   *redis.Client
	queue ApprovalQueue
	bus   events.Bus
	log   *logger.Logger
}

// New wires a governor over redis and the approval queue.
func New(rdb *redis.Client, queue ApprovalQueue, bus events.Bus, log *logger.Logger) *Governor {
	return &Governor{rdb: rdb, queue: queue, bus: bus, log: log}
}

// Authorize gates one outbound action against the tenant policy. An Allow
// also records the send against the rolling window; callers must dispatch
// an allowed action or the slot is consumed anyway.
func (g *Governor) Authorize(ctx context.Context, policy Policy, action Action, now time.Time) (Decision, error) {
	if policy.Mode == ModeApproval {
		if err := g.queue.Enqueue(ctx, action, now); err != nil {
			return Decision{}, err
		}
		g.deny(ctx, action, "automation mode requires approval", true)
		return Decision{Queued: true, Reason: "approval mode"}, nil
	}

	key := windowKey(action.TenantID, action.LeadID, action.Channel)
	cutoff := now.Add(-policy.Window)

	if err := g.rdb.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff)).Err(); err != nil {
		return Decision{}, err
	}
	count, err := g.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if count >= int64(policy.Cap(action.Channel)) {
		reason := fmt.Sprintf("%s cap of %d reached within %s", action.Channel, policy.Cap(action.Channel), policy.Window)
		g.deny(ctx, action, reason, false)
		return Decision{Reason: reason}, nil
	}

	pipe := g.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score(now), Member: action.ID.String()})
	pipe.Expire(ctx, key, policy.Window+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true}, nil
}

// Sent returns how many sends the lead received on a channel within the
// window ending at now. Read-only; used by the dashboard.
func (g *Governor) Sent(ctx context.Context, tenantID, leadID uuid.UUID, channel Channel, window time.Duration, now time.Time) (int64, error) {
	key := windowKey(tenantID, leadID, channel)
	return g.rdb.ZCount(ctx, key, formatScore(now.Add(-window)), "+inf").Result()
}

func (g *Governor) deny(ctx context.Context, action Action, reason string, queued bool) {
	if g.log != nil {
		g.log.RateLimitExceeded(action.LeadID.String(), string(action.Channel), reason)
	}
	if g.bus != nil {
		g.bus.Publish(ctx, events.ActionDenied{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    action.LeadID,
			TenantID:  action.TenantID,
			Channel:   string(action.Channel),
			Reason:    reason,
			Queued:    queued,
		})
	}
}

func windowKey(tenantID, leadID uuid.UUID, channel Channel) string {
	return "governor:" + tenantID.String() + ":" + leadID.String() + ":" + string(channel)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
