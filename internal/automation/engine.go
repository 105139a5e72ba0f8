package automation

import (
	"context"
	"sort"
	"strings"
	"time"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
)

// EventKind classifies the domain events the engine evaluates.
type EventKind string

const (
	EventEngagement   EventKind = "engagement"
	EventStatusChange EventKind = "status_change"
	EventDMReceived   EventKind = "dm_received"
)

// Input is a normalized domain event plus the post-update lead snapshot.
// OriginRuleID carries the id of the rule whose action produced the event,
// empty for externally sourced events.
type Input struct {
	Kind         EventKind
	Lead         *domain.Lead
	Engagement   *domain.Engagement
	From         domain.LeadStatus
	To           domain.LeadStatus
	OriginRuleID string
}

// Executor performs rule actions. Implementations route every outbound
// action through the safety governor; the engine never sends directly.
type Executor interface {
	SendDM(ctx context.Context, lead *domain.Lead, templateID, ruleID string) error
	AddTag(ctx context.Context, lead *domain.Lead, tag string) error
	ChangeStatus(ctx context.Context, lead *domain.Lead, to domain.LeadStatus, ruleID string) error
	NotifyTeam(ctx context.Context, lead *domain.Lead, message string) error
	Enroll(ctx context.Context, leadID uuid.UUID, sequenceID string) error
}

// FireLog records which threshold rules already fired for which lead, so a
// counter crossing its threshold fires exactly once per lead.
type FireLog interface {
	HasFired(ctx context.Context, ruleID string, leadID uuid.UUID) (bool, error)
	MarkFired(ctx context.Context, ruleID string, leadID uuid.UUID, at time.Time) error
}

// Result is one executed action with its outcome. Failures are reported
// per action; they never stop later actions of the same rule or later rules.
type Result struct {
	RuleID string
	Action Action
	Err    error
}

// Engine evaluates tenant rules against domain events. Matching is pure;
// the only rule state it mutates is TriggeredCount and LastTriggeredAt.
type Engine struct {
	rules    []*Rule
	executor Executor
	fireLog  FireLog
	log      *logger.Logger
}

// NewEngine creates an engine over the given rule set. Rules are evaluated
// in descending priority, ties broken by rule id ascending.
func NewEngine(rules []*Rule, executor Executor, fireLog FireLog, log *logger.Logger) *Engine {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Engine{rules: sorted, executor: executor, fireLog: fireLog, log: log}
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []*Rule { return e.rules }

// Evaluate runs every active rule against the event and executes the action
// lists of the rules that fire. A rule never triggers on an event produced
// by its own actions in the same pass.
func (e *Engine) Evaluate(ctx context.Context, in Input, now time.Time) ([]Result, error) {
	var results []Result
	for _, rule := range e.rules {
		if !rule.IsActive || rule.ID == in.OriginRuleID {
			continue
		}
		if !e.matches(rule, in) {
			continue
		}

		if oncePerLead(rule.Trigger.Kind) {
			fired, err := e.fireLog.HasFired(ctx, rule.ID, in.Lead.ID)
			if err != nil {
				return results, err
			}
			if fired {
				continue
			}
			if err := e.fireLog.MarkFired(ctx, rule.ID, in.Lead.ID, now); err != nil {
				return results, err
			}
		}

		rule.TriggeredCount++
		at := now
		rule.LastTriggeredAt = &at

		results = append(results, e.fire(ctx, rule, in)...)
	}
	return results, nil
}

// matches is the pure trigger predicate.
func (e *Engine) matches(rule *Rule, in Input) bool {
	t := rule.Trigger
	switch t.Kind {
	case TriggerEngagementThreshold:
		if in.Kind != EventEngagement || in.Engagement == nil {
			return false
		}
		if in.Engagement.Type != t.EngagementType {
			return false
		}
		if t.Platform != "" && in.Engagement.Platform != t.Platform {
			return false
		}
		if t.Sentiment != "" && in.Engagement.Sentiment != t.Sentiment {
			return false
		}
		return in.Lead.CountersByType[t.EngagementType] >= int64(t.Threshold)

	case TriggerScoreThreshold:
		if in.Kind != EventEngagement {
			return false
		}
		if t.Platform != "" && (in.Engagement == nil || in.Engagement.Platform != t.Platform) {
			return false
		}
		return in.Lead.Score >= t.Threshold

	case TriggerStatusChange:
		return in.Kind == EventStatusChange && in.To == t.ToStatus

	case TriggerDMReceived:
		if in.Kind != EventDMReceived || in.Engagement == nil {
			return false
		}
		if t.Platform != "" && in.Engagement.Platform != t.Platform {
			return false
		}
		if t.Keyword == "" {
			return true
		}
		return strings.Contains(strings.ToLower(in.Engagement.Message), strings.ToLower(t.Keyword))
	}
	return false
}

// fire executes the rule's action list in order. Each action's outcome is
// logged independently; one failure does not block the rest.
func (e *Engine) fire(ctx context.Context, rule *Rule, in Input) []Result {
	results := make([]Result, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		var err error
		switch action.Kind {
		case ActionSendDM:
			err = e.executor.SendDM(ctx, in.Lead, action.TemplateID, rule.ID)
		case ActionAddTag:
			err = e.executor.AddTag(ctx, in.Lead, action.Tag)
		case ActionChangeStatus:
			err = e.executor.ChangeStatus(ctx, in.Lead, action.Status, rule.ID)
		case ActionNotifyTeam:
			err = e.executor.NotifyTeam(ctx, in.Lead, action.Message)
		case ActionAddToSequence:
			err = e.executor.Enroll(ctx, in.Lead.ID, action.SequenceID)
		}
		if err != nil && e.log != nil {
			e.log.Warn("rule_action_failed",
				"rule_id", rule.ID,
				"action", string(action.Kind),
				"lead_id", in.Lead.ID.String(),
				"error", err.Error(),
			)
		}
		results = append(results, Result{RuleID: rule.ID, Action: action, Err: err})
	}
	return results
}

// oncePerLead reports whether the trigger kind fires at most once per lead.
// Threshold crossings are once-only; status changes and DMs fire per event.
func oncePerLead(kind TriggerKind) bool {
	return kind == TriggerEngagementThreshold || kind == TriggerScoreThreshold
}

// MemoryFireLog is an in-process FireLog, used by tests and as the warm
// cache in front of the persisted execution log.
type MemoryFireLog struct {
	fired map[string]time.Time
}

// NewMemoryFireLog creates an empty in-process fire log.
func NewMemoryFireLog() *MemoryFireLog {
	return &MemoryFireLog{fired: make(map[string]time.Time)}
}

func (m *MemoryFireLog) HasFired(_ context.Context, ruleID string, leadID uuid.UUID) (bool, error) {
	_, ok := m.fired[ruleID+"|"+leadID.String()]
	return ok, nil
}

func (m *MemoryFireLog) MarkFired(_ context.Context, ruleID string, leadID uuid.UUID, at time.Time) error {
	m.fired[ruleID+"|"+leadID.String()] = at
	return nil
}
