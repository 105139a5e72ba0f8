package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpulse_backend/internal/leads/domain"

	"github.com/google/uuid"
)

type executedAction struct {
	ruleID string
	kind   ActionKind
	detail string
}

// fakeExecutor records action invocations and can be told to fail a kind.
type fakeExecutor struct {
	executed []executedAction
	failKind ActionKind
}

func (f *fakeExecutor) record(ruleID string, kind ActionKind, detail string) error {
	f.executed = append(f.executed, executedAction{ruleID: ruleID, kind: kind, detail: detail})
	if kind == f.failKind {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeExecutor) SendDM(_ context.Context, _ *domain.Lead, templateID, ruleID string) error {
	return f.record(ruleID, ActionSendDM, templateID)
}

func (f *fakeExecutor) AddTag(_ context.Context, _ *domain.Lead, tag string) error {
	return f.record("", ActionAddTag, tag)
}

func (f *fakeExecutor) ChangeStatus(_ context.Context, _ *domain.Lead, to domain.LeadStatus, ruleID string) error {
	return f.record(ruleID, ActionChangeStatus, string(to))
}

func (f *fakeExecutor) NotifyTeam(_ context.Context, _ *domain.Lead, message string) error {
	return f.record("", ActionNotifyTeam, message)
}

func (f *fakeExecutor) Enroll(_ context.Context, _ uuid.UUID, sequenceID string) error {
	return f.record("", ActionAddToSequence, sequenceID)
}

func likeThresholdRule(id string, threshold float64) *Rule {
	return &Rule{
		ID:       id,
		Name:     "like milestone",
		IsActive: true,
		Trigger: Trigger{
			Kind:           TriggerEngagementThreshold,
			EngagementType: domain.EngagementLike,
			Threshold:      threshold,
		},
		Actions: []Action{{Kind: ActionAddTag, Tag: "engaged"}},
	}
}

func likeInput(lead *domain.Lead) Input {
	return Input{
		Kind:       EventEngagement,
		Lead:       lead,
		Engagement: &domain.Engagement{Type: domain.EngagementLike, Platform: domain.PlatformInstagram},
	}
}

func testLead() *domain.Lead {
	return &domain.Lead{
		ID:             uuid.New(),
		Status:         domain.StatusCold,
		CountersByType: make(map[domain.EngagementType]int64),
	}
}

func TestLikeThresholdFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	rule := likeThresholdRule("r1", 10)
	engine := NewEngine([]*Rule{rule}, exec, NewMemoryFireLog(), nil)

	lead := testLead()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	fires := 0
	for i := 1; i <= 12; i++ {
		lead.CountersByType[domain.EngagementLike] = int64(i)
		results, err := engine.Evaluate(ctx, likeInput(lead), now)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if len(results) > 0 {
			fires++
			if i != 10 {
				t.Fatalf("rule fired on like %d, want only the 10th", i)
			}
		}
	}
	if fires != 1 {
		t.Fatalf("rule fired %d times, want exactly 1", fires)
	}
	if rule.TriggeredCount != 1 {
		t.Fatalf("TriggeredCount = %d, want 1", rule.TriggeredCount)
	}
	if rule.LastTriggeredAt == nil || !rule.LastTriggeredAt.Equal(now) {
		t.Fatalf("LastTriggeredAt = %v, want %v", rule.LastTriggeredAt, now)
	}
}

func TestThresholdSkippedByMergeStillFiresOnce(t *testing.T) {
	// A merge can jump a counter past the threshold without ever equalling it.
	ctx := context.Background()
	exec := &fakeExecutor{}
	engine := NewEngine([]*Rule{likeThresholdRule("r1", 10)}, exec, NewMemoryFireLog(), nil)

	lead := testLead()
	now := time.Now().UTC()

	lead.CountersByType[domain.EngagementLike] = 13
	results, _ := engine.Evaluate(ctx, likeInput(lead), now)
	if len(results) != 1 {
		t.Fatalf("expected fire on first evaluation past threshold, got %d results", len(results))
	}

	lead.CountersByType[domain.EngagementLike] = 14
	results, _ = engine.Evaluate(ctx, likeInput(lead), now)
	if len(results) != 0 {
		t.Fatal("rule fired again after the threshold crossing")
	}
}

func TestEvaluationOrderDeterministic(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}

	mk := func(id string, priority int, tag string) *Rule {
		r := likeThresholdRule(id, 1)
		r.Priority = priority
		r.Actions = []Action{{Kind: ActionAddTag, Tag: tag}}
		return r
	}
	// Registration order is scrambled on purpose.
	engine := NewEngine([]*Rule{
		mk("b", 1, "second"),
		mk("c", 0, "third"),
		mk("a", 1, "first"),
	}, exec, NewMemoryFireLog(), nil)

	lead := testLead()
	lead.CountersByType[domain.EngagementLike] = 1
	if _, err := engine.Evaluate(ctx, likeInput(lead), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(exec.executed) != len(want) {
		t.Fatalf("executed %d actions, want %d", len(exec.executed), len(want))
	}
	for i, tag := range want {
		if exec.executed[i].detail != tag {
			t.Fatalf("action %d = %q, want %q", i, exec.executed[i].detail, tag)
		}
	}
}

func TestActionFailureDoesNotBlockLaterActions(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{failKind: ActionAddTag}
	rule := &Rule{
		ID:       "r1",
		IsActive: true,
		Trigger:  Trigger{Kind: TriggerStatusChange, ToStatus: domain.StatusHot},
		Actions: []Action{
			{Kind: ActionAddTag, Tag: "hot-lead"},
			{Kind: ActionNotifyTeam, Message: "lead went hot"},
		},
	}
	engine := NewEngine([]*Rule{rule}, exec, NewMemoryFireLog(), nil)

	lead := testLead()
	results, err := engine.Evaluate(ctx, Input{
		Kind: EventStatusChange, Lead: lead,
		From: domain.StatusWarm, To: domain.StatusHot,
	}, time.Now())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Err == nil {
		t.Fatal("expected first action to fail")
	}
	if results[1].Err != nil {
		t.Fatalf("second action failed: %v", results[1].Err)
	}
	if len(exec.executed) != 2 {
		t.Fatalf("executed %d actions, want 2", len(exec.executed))
	}
}

func TestRuleSkipsItsOwnEvents(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	rule := &Rule{
		ID:       "promote",
		IsActive: true,
		Trigger:  Trigger{Kind: TriggerStatusChange, ToStatus: domain.StatusWarm},
		Actions:  []Action{{Kind: ActionChangeStatus, Status: domain.StatusWarm}},
	}
	engine := NewEngine([]*Rule{rule}, exec, NewMemoryFireLog(), nil)

	lead := testLead()
	in := Input{Kind: EventStatusChange, Lead: lead, From: domain.StatusCold, To: domain.StatusWarm}
	if results, _ := engine.Evaluate(ctx, in, time.Now()); len(results) != 1 {
		t.Fatalf("expected initial fire, got %d results", len(results))
	}

	// The status change produced by the rule's own action comes back with
	// the rule's id stamped as origin and must not re-trigger it.
	in.OriginRuleID = "promote"
	if results, _ := engine.Evaluate(ctx, in, time.Now()); len(results) != 0 {
		t.Fatal("rule re-triggered on its own event")
	}
}

func TestInactiveRuleNeverFires(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	rule := likeThresholdRule("r1", 1)
	rule.IsActive = false
	engine := NewEngine([]*Rule{rule}, exec, NewMemoryFireLog(), nil)

	lead := testLead()
	lead.CountersByType[domain.EngagementLike] = 5
	results, _ := engine.Evaluate(ctx, likeInput(lead), time.Now())
	if len(results) != 0 {
		t.Fatal("inactive rule fired")
	}
	if rule.TriggeredCount != 0 {
		t.Fatalf("TriggeredCount = %d, want 0", rule.TriggeredCount)
	}
}

func TestDMKeywordTrigger(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	rule := &Rule{
		ID:       "pricing",
		IsActive: true,
		Trigger:  Trigger{Kind: TriggerDMReceived, Keyword: "pricing"},
		Actions:  []Action{{Kind: ActionNotifyTeam, Message: "pricing question"}},
	}
	engine := NewEngine([]*Rule{rule}, exec, NewMemoryFireLog(), nil)
	lead := testLead()

	hit := Input{Kind: EventDMReceived, Lead: lead, Engagement: &domain.Engagement{
		Type: domain.EngagementDM, Message: "Hey, what is your Pricing like?",
	}}
	if results, _ := engine.Evaluate(ctx, hit, time.Now()); len(results) != 1 {
		t.Fatal("keyword DM did not fire")
	}

	miss := Input{Kind: EventDMReceived, Lead: lead, Engagement: &domain.Engagement{
		Type: domain.EngagementDM, Message: "love your content",
	}}
	if results, _ := engine.Evaluate(ctx, miss, time.Now()); len(results) != 0 {
		t.Fatal("non-matching DM fired")
	}
}

func TestRuleValidation(t *testing.T) {
	cases := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{
			name: "valid threshold rule",
			rule: *likeThresholdRule("r1", 10),
		},
		{
			name: "unknown trigger kind",
			rule: Rule{ID: "r1", Trigger: Trigger{Kind: "webhook"},
				Actions: []Action{{Kind: ActionAddTag, Tag: "x"}}},
			wantErr: true,
		},
		{
			name: "unknown action kind",
			rule: Rule{ID: "r1",
				Trigger: Trigger{Kind: TriggerDMReceived},
				Actions: []Action{{Kind: "delete_lead"}}},
			wantErr: true,
		},
		{
			name: "send_dm without template",
			rule: Rule{ID: "r1",
				Trigger: Trigger{Kind: TriggerDMReceived},
				Actions: []Action{{Kind: ActionSendDM}}},
			wantErr: true,
		},
		{
			name: "score threshold out of range",
			rule: Rule{ID: "r1",
				Trigger: Trigger{Kind: TriggerScoreThreshold, Threshold: 150},
				Actions: []Action{{Kind: ActionAddTag, Tag: "x"}}},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
