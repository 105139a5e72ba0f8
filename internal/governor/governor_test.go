package governor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type memQueue struct {
	queued []Action
}

func (m *memQueue) Enqueue(_ context.Context, action Action, _ time.Time) error {
	m.queued = append(m.queued, action)
	return nil
}

func newTestGovernor(t *testing.T) (*Governor, *memQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	queue := &memQueue{}
	return New(rdb, queue, nil, nil), queue
}

func autonomousPolicy(cap int) Policy {
	return Policy{
		Mode:       ModeAutonomous,
		Window:     7 * 24 * time.Hour,
		DefaultCap: cap,
	}
}

func smsAction(leadID, tenantID uuid.UUID) Action {
	return Action{
		ID:       uuid.New(),
		LeadID:   leadID,
		TenantID: tenantID,
		Channel:  ChannelSMS,
		Message:  "hi",
	}
}

func TestSixthSMSDeniedWithinWindow(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t)
	policy := autonomousPolicy(5)

	leadID, tenantID := uuid.New(), uuid.New()
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		d, err := g.Authorize(ctx, policy, smsAction(leadID, tenantID), start.Add(time.Duration(i)*24*time.Hour))
		if err != nil {
			t.Fatalf("authorize %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("send %d denied: %s", i+1, d.Reason)
		}
	}

	d, err := g.Authorize(ctx, policy, smsAction(leadID, tenantID), start.Add(5*24*time.Hour))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th SMS within 7 days allowed, cap is 5")
	}
	if d.Queued {
		t.Fatal("rate-limit denial must not queue for approval")
	}
}

func TestCapReleasesAsWindowRolls(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t)
	policy := autonomousPolicy(5)

	leadID, tenantID := uuid.New(), uuid.New()
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	// One send per day for five days fills the cap.
	for i := 0; i < 5; i++ {
		g.Authorize(ctx, policy, smsAction(leadID, tenantID), start.Add(time.Duration(i)*24*time.Hour))
	}

	// Day 7 plus an hour: the day-0 send has rolled out of the window.
	d, err := g.Authorize(ctx, policy, smsAction(leadID, tenantID), start.Add(7*24*time.Hour+time.Hour))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("send after window rolled still denied: %s", d.Reason)
	}
}

func TestChannelsAndLeadsCountedSeparately(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t)
	policy := autonomousPolicy(1)

	tenantID := uuid.New()
	leadA, leadB := uuid.New(), uuid.New()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	if d, _ := g.Authorize(ctx, policy, smsAction(leadA, tenantID), now); !d.Allowed {
		t.Fatal("first SMS to lead A denied")
	}
	if d, _ := g.Authorize(ctx, policy, smsAction(leadA, tenantID), now); d.Allowed {
		t.Fatal("second SMS to lead A allowed over cap")
	}

	email := smsAction(leadA, tenantID)
	email.Channel = ChannelEmail
	if d, _ := g.Authorize(ctx, policy, email, now); !d.Allowed {
		t.Fatal("email to lead A denied by the SMS counter")
	}
	if d, _ := g.Authorize(ctx, policy, smsAction(leadB, tenantID), now); !d.Allowed {
		t.Fatal("SMS to lead B denied by lead A's counter")
	}
}

func TestPerChannelCapOverridesDefault(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t)
	policy := autonomousPolicy(5)
	policy.ChannelCaps = map[Channel]int{ChannelSMS: 1}

	leadID, tenantID := uuid.New(), uuid.New()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	if d, _ := g.Authorize(ctx, policy, smsAction(leadID, tenantID), now); !d.Allowed {
		t.Fatal("first SMS denied")
	}
	if d, _ := g.Authorize(ctx, policy, smsAction(leadID, tenantID), now); d.Allowed {
		t.Fatal("second SMS allowed over the channel cap of 1")
	}
}

func TestApprovalModeQueuesInsteadOfSending(t *testing.T) {
	ctx := context.Background()
	g, queue := newTestGovernor(t)
	policy := autonomousPolicy(5)
	policy.Mode = ModeApproval

	leadID, tenantID := uuid.New(), uuid.New()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	d, err := g.Authorize(ctx, policy, smsAction(leadID, tenantID), now)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed {
		t.Fatal("approval mode allowed a direct send")
	}
	if !d.Queued {
		t.Fatal("approval mode must queue the action")
	}
	if len(queue.queued) != 1 {
		t.Fatalf("queued %d actions, want 1", len(queue.queued))
	}

	// Queued actions do not consume rate-limit slots.
	if sent, _ := g.Sent(ctx, tenantID, leadID, ChannelSMS, policy.Window, now); sent != 0 {
		t.Fatalf("queued action recorded %d sends", sent)
	}
}
