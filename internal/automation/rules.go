// Package automation evaluates tenant-configured rules against domain
// events and schedules their action lists.
package automation

import (
	"fmt"
	"time"

	"leadpulse_backend/internal/leads/domain"
)

// TriggerKind is the closed set of supported rule triggers. Unknown kinds
// fail rule validation instead of silently never matching.
type TriggerKind string

const (
	// TriggerEngagementThreshold fires once per lead when the lead's
	// counter for a given engagement type reaches the threshold.
	TriggerEngagementThreshold TriggerKind = "engagement_threshold"
	// TriggerScoreThreshold fires once per lead when the score reaches
	// the threshold value.
	TriggerScoreThreshold TriggerKind = "score_threshold"
	// TriggerStatusChange fires on every transition into the target status.
	TriggerStatusChange TriggerKind = "status_change"
	// TriggerDMReceived fires on every inbound DM, optionally keyword-filtered.
	TriggerDMReceived TriggerKind = "dm_received"
)

// ActionKind is the closed set of supported rule actions.
type ActionKind string

const (
	ActionSendDM        ActionKind = "send_dm"
	ActionAddTag        ActionKind = "add_tag"
	ActionChangeStatus  ActionKind = "change_status"
	ActionNotifyTeam    ActionKind = "notify_team"
	ActionAddToSequence ActionKind = "add_to_sequence"
)

// Trigger is a tagged variant: Kind selects which fields apply.
type Trigger struct {
	Kind           TriggerKind           `yaml:"kind" json:"kind"`
	Platform       domain.Platform       `yaml:"platform,omitempty" json:"platform,omitempty"`
	EngagementType domain.EngagementType `yaml:"engagementType,omitempty" json:"engagementType,omitempty"`
	Threshold      float64               `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Sentiment      domain.Sentiment      `yaml:"sentiment,omitempty" json:"sentiment,omitempty"`
	ToStatus       domain.LeadStatus     `yaml:"toStatus,omitempty" json:"toStatus,omitempty"`
	Keyword        string                `yaml:"keyword,omitempty" json:"keyword,omitempty"`
}

// Action is a tagged variant: Kind selects which fields apply.
type Action struct {
	Kind       ActionKind        `yaml:"kind" json:"kind"`
	TemplateID string            `yaml:"templateId,omitempty" json:"templateId,omitempty"`
	Tag        string            `yaml:"tag,omitempty" json:"tag,omitempty"`
	Status     domain.LeadStatus `yaml:"status,omitempty" json:"status,omitempty"`
	Message    string            `yaml:"message,omitempty" json:"message,omitempty"`
	SequenceID string            `yaml:"sequenceId,omitempty" json:"sequenceId,omitempty"`
}

// Rule is one tenant-configured automation rule. The engine mutates only
// TriggeredCount and LastTriggeredAt.
type Rule struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	IsActive        bool       `yaml:"isActive" json:"isActive"`
	Priority        int        `yaml:"priority" json:"priority"`
	Trigger         Trigger    `yaml:"trigger" json:"trigger"`
	Actions         []Action   `yaml:"actions" json:"actions"`
	TriggeredCount  int64      `yaml:"-" json:"triggeredCount"`
	LastTriggeredAt *time.Time `yaml:"-" json:"lastTriggeredAt,omitempty"`
}

// Validate rejects unknown kinds and kind/field combinations up front,
// when tenant configuration is loaded rather than at evaluation time.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	switch r.Trigger.Kind {
	case TriggerEngagementThreshold:
		if !domain.KnownEngagementTypes[r.Trigger.EngagementType] {
			return fmt.Errorf("rule %s: unknown engagement type %q", r.ID, r.Trigger.EngagementType)
		}
		if r.Trigger.Threshold < 1 {
			return fmt.Errorf("rule %s: engagement threshold must be >= 1", r.ID)
		}
	case TriggerScoreThreshold:
		if r.Trigger.Threshold <= 0 || r.Trigger.Threshold > 100 {
			return fmt.Errorf("rule %s: score threshold must be in (0,100]", r.ID)
		}
	case TriggerStatusChange:
		if !domain.KnownStatuses[r.Trigger.ToStatus] {
			return fmt.Errorf("rule %s: unknown status %q", r.ID, r.Trigger.ToStatus)
		}
	case TriggerDMReceived:
		// Keyword is optional; empty matches every DM.
	default:
		return fmt.Errorf("rule %s: unsupported trigger kind %q", r.ID, r.Trigger.Kind)
	}
	if r.Trigger.Platform != "" && !domain.KnownPlatforms[r.Trigger.Platform] {
		return fmt.Errorf("rule %s: unknown platform %q", r.ID, r.Trigger.Platform)
	}

	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: no actions", r.ID)
	}
	for i, a := range r.Actions {
		switch a.Kind {
		case ActionSendDM:
			if a.TemplateID == "" {
				return fmt.Errorf("rule %s action %d: send_dm without templateId", r.ID, i)
			}
		case ActionAddTag:
			if a.Tag == "" {
				return fmt.Errorf("rule %s action %d: add_tag without tag", r.ID, i)
			}
		case ActionChangeStatus:
			if !domain.KnownStatuses[a.Status] {
				return fmt.Errorf("rule %s action %d: unknown status %q", r.ID, i, a.Status)
			}
		case ActionNotifyTeam:
			if a.Message == "" {
				return fmt.Errorf("rule %s action %d: notify_team without message", r.ID, i)
			}
		case ActionAddToSequence:
			if a.SequenceID == "" {
				return fmt.Errorf("rule %s action %d: add_to_sequence without sequenceId", r.ID, i)
			}
		default:
			return fmt.Errorf("rule %s action %d: unsupported action kind %q", r.ID, i, a.Kind)
		}
	}
	return nil
}
