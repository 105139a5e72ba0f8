package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadpulse_backend/internal/automation"
	"leadpulse_backend/internal/events"
	"leadpulse_backend/internal/governor"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/leads/scoring"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
)

type memoryLeadStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
	tags  map[uuid.UUID][]string
}

func newMemoryLeadStore() *memoryLeadStore {
	return &memoryLeadStore{
		leads: make(map[uuid.UUID]*domain.Lead),
		tags:  make(map[uuid.UUID][]string),
	}
}

func (s *memoryLeadStore) put(lead *domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = lead
}

func (s *memoryLeadStore) Lead(_ context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *s.leads[leadID]
	return &clone, nil
}

func (s *memoryLeadStore) SaveLead(_ context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *lead
	s.leads[lead.ID] = &clone
	return nil
}

func (s *memoryLeadStore) AddTag(_ context.Context, leadID uuid.UUID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[leadID] = append(s.tags[leadID], tag)
	return nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *capturingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *capturingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *capturingBus) Subscribe(string, events.Handler) {}

func (b *capturingBus) byName(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type staticRules struct {
	rules []*automation.Rule
}

func (s staticRules) Rules(uuid.UUID) []*automation.Rule { return s.rules }

type fakePipelineConfig struct{ partitions int }

func (c fakePipelineConfig) GetPipelinePartitions() int { return c.partitions }

type sendCall struct {
	leadID     uuid.UUID
	templateID string
	ruleID     string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
}

func (f *fakeSender) Send(_ context.Context, leadID, _ uuid.UUID, templateID, ruleID, _, _ string, _ time.Time) (governor.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{leadID: leadID, templateID: templateID, ruleID: ruleID})
	return governor.Decision{Allowed: true}, nil
}

type fakeEnroller struct {
	mu          sync.Mutex
	enrollments []string
}

func (f *fakeEnroller) Enroll(_ context.Context, _, _ uuid.UUID, sequenceID string, _ time.Time) (*sequences.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments = append(f.enrollments, sequenceID)
	return &sequences.Run{SequenceID: sequenceID}, nil
}

func newTestPipeline(t *testing.T, store *memoryLeadStore, bus *capturingBus, rules []*automation.Rule) (*Pipeline, *fakeSender, *fakeEnroller) {
	t.Helper()
	log := logger.New("test")
	p := New(store, scoring.Default(), domain.DefaultThresholds, staticRules{rules: rules},
		automation.NewMemoryFireLog(), bus, fakePipelineConfig{partitions: 2}, log)
	sender := &fakeSender{}
	enroller := &fakeEnroller{}
	p.SetExecutor(NewExecutor(p, sender, enroller, nil, log))
	p.Start(context.Background())
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("pipeline close: %v", err)
		}
	})
	return p, sender, enroller
}

func newLead(status domain.LeadStatus, score float64) *domain.Lead {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Lead{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		PrimaryPlatform: domain.PlatformInstagram,
		Status:          status,
		Score:           score,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func engagementAt(leadID uuid.UUID, etype domain.EngagementType, at time.Time) *domain.Engagement {
	return &domain.Engagement{
		ID:         uuid.New(),
		LeadID:     leadID,
		Type:       etype,
		Platform:   domain.PlatformInstagram,
		OccurredAt: at,
	}
}

func TestForwardUpdatesScoreCountersAndStatus(t *testing.T) {
	store := newMemoryLeadStore()
	bus := &capturingBus{}
	p, _, _ := newTestPipeline(t, store, bus, nil)

	lead := newLead(domain.StatusCold, 0)
	store.put(lead)

	base := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	// Three DMs in quick succession: 45 points, past the warm threshold.
	for i := 0; i < 3; i++ {
		e := engagementAt(lead.ID, domain.EngagementDM, base.Add(time.Duration(i)*time.Minute))
		if err := p.Forward(context.Background(), lead.TenantID, e, false); err != nil {
			t.Fatalf("Forward: %v", err)
		}
	}

	got, _ := store.Lead(context.Background(), lead.ID)
	if got.Score < 30 {
		t.Fatalf("score = %.2f, want >= 30", got.Score)
	}
	if got.Status != domain.StatusWarm {
		t.Fatalf("status = %s, want warm", got.Status)
	}
	if got.CountersByType[domain.EngagementDM] != 3 {
		t.Fatalf("dm counter = %d, want 3", got.CountersByType[domain.EngagementDM])
	}
	if got.CountersByOrigin[domain.PlatformInstagram] != 3 {
		t.Fatalf("origin counter = %d, want 3", got.CountersByOrigin[domain.PlatformInstagram])
	}
	if got.FirstEngagedAt == nil || !got.FirstEngagedAt.Equal(base) {
		t.Fatalf("firstEngagedAt = %v, want %v", got.FirstEngagedAt, base)
	}

	if n := len(bus.byName("leads.status.changed")); n != 1 {
		t.Fatalf("status change events = %d, want 1", n)
	}
	if n := len(bus.byName("leads.score.updated")); n != 3 {
		t.Fatalf("score events = %d, want 3", n)
	}
	if n := len(bus.byName("engagement.dm.received")); n != 3 {
		t.Fatalf("dm events = %d, want 3", n)
	}
}

func TestChurnedLeadReentersOnEngagement(t *testing.T) {
	store := newMemoryLeadStore()
	bus := &capturingBus{}
	p, _, _ := newTestPipeline(t, store, bus, nil)

	lead := newLead(domain.StatusChurned, 0)
	store.put(lead)

	e := engagementAt(lead.ID, domain.EngagementLike, time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC))
	if err := p.Forward(context.Background(), lead.TenantID, e, false); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	got, _ := store.Lead(context.Background(), lead.ID)
	if got.Status != domain.StatusCold {
		t.Fatalf("status = %s, want cold after re-entry", got.Status)
	}
	changes := bus.byName("leads.status.changed")
	if len(changes) != 1 {
		t.Fatalf("status change events = %d, want 1", len(changes))
	}
	if tr := changes[0].(events.LeadStatusChanged); tr.Reason != domain.ReasonReentry {
		t.Fatalf("reason = %s, want re_entry", tr.Reason)
	}
}

func TestConvertAndChurnSemantics(t *testing.T) {
	store := newMemoryLeadStore()
	bus := &capturingBus{}
	p, _, _ := newTestPipeline(t, store, bus, nil)

	lead := newLead(domain.StatusHot, 80)
	store.put(lead)

	converted, err := p.Convert(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if converted.Status != domain.StatusCustomer {
		t.Fatalf("status = %s, want customer", converted.Status)
	}

	// Converting again is a no-op.
	again, err := p.Convert(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("second Convert: %v", err)
	}
	if again.Status != domain.StatusCustomer {
		t.Fatalf("status = %s after repeat convert", again.Status)
	}
	if n := len(bus.byName("leads.status.changed")); n != 1 {
		t.Fatalf("status change events = %d, want 1", n)
	}

	// Customers do not churn from the inactivity sweep.
	swept, err := p.Churn(context.Background(), lead.ID, domain.ReasonInactivity)
	if err != nil {
		t.Fatalf("Churn: %v", err)
	}
	if swept.Status != domain.StatusCustomer {
		t.Fatalf("status = %s, customer must not churn by inactivity", swept.Status)
	}
}

func TestThresholdRuleFiresOnceAndSendsDM(t *testing.T) {
	rule := &automation.Rule{
		ID:       "comment-threshold",
		Name:     "Thank frequent commenters",
		IsActive: true,
		Trigger: automation.Trigger{
			Kind:           automation.TriggerEngagementThreshold,
			EngagementType: domain.EngagementComment,
			Threshold:      2,
		},
		Actions: []automation.Action{
			{Kind: automation.ActionSendDM, TemplateID: "tpl-thanks"},
			{Kind: automation.ActionAddTag, Tag: "engaged-commenter"},
		},
	}
	store := newMemoryLeadStore()
	bus := &capturingBus{}
	p, sender, _ := newTestPipeline(t, store, bus, []*automation.Rule{rule})

	lead := newLead(domain.StatusCold, 0)
	store.put(lead)

	base := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		e := engagementAt(lead.ID, domain.EngagementComment, base.Add(time.Duration(i)*time.Minute))
		if err := p.Forward(context.Background(), lead.TenantID, e, false); err != nil {
			t.Fatalf("Forward: %v", err)
		}
	}

	if len(sender.calls) != 1 {
		t.Fatalf("dm sends = %d, want exactly 1 despite counter passing threshold repeatedly", len(sender.calls))
	}
	if sender.calls[0].templateID != "tpl-thanks" || sender.calls[0].ruleID != "comment-threshold" {
		t.Fatalf("unexpected send call %+v", sender.calls[0])
	}
	if tags := store.tags[lead.ID]; len(tags) != 1 || tags[0] != "engaged-commenter" {
		t.Fatalf("tags = %v, want one engaged-commenter", tags)
	}
}

func TestStatusChangeRuleDoesNotRetriggerItself(t *testing.T) {
	// The rule reacts to entering warm by forcing the lead to hot. The
	// forced transition is stamped with the rule id, so the rule must not
	// see its own effect; a second rule reacting to hot still fires.
	toHot := &automation.Rule{
		ID:       "warm-to-hot",
		IsActive: true,
		Trigger:  automation.Trigger{Kind: automation.TriggerStatusChange, ToStatus: domain.StatusWarm},
		Actions:  []automation.Action{{Kind: automation.ActionChangeStatus, Status: domain.StatusHot}},
	}
	onHot := &automation.Rule{
		ID:       "hot-enroll",
		IsActive: true,
		Trigger:  automation.Trigger{Kind: automation.TriggerStatusChange, ToStatus: domain.StatusHot},
		Actions:  []automation.Action{{Kind: automation.ActionAddToSequence, SequenceID: "seq-vip"}},
	}
	store := newMemoryLeadStore()
	bus := &capturingBus{}
	p, _, enroller := newTestPipeline(t, store, bus, []*automation.Rule{toHot, onHot})

	lead := newLead(domain.StatusCold, 25)
	store.put(lead)

	// One comment pushes the score past warm.
	e := engagementAt(lead.ID, domain.EngagementComment, time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC))
	if err := p.Forward(context.Background(), lead.TenantID, e, false); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	got, _ := store.Lead(context.Background(), lead.ID)
	if got.Status != domain.StatusHot {
		t.Fatalf("status = %s, want hot via rule action", got.Status)
	}
	if len(enroller.enrollments) != 1 || enroller.enrollments[0] != "seq-vip" {
		t.Fatalf("enrollments = %v, want [seq-vip]", enroller.enrollments)
	}
}
