// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent = events.NewBaseEvent
	BaseEventAt  = events.BaseEventAt
)

// =============================================================================
// Engagement Pipeline Events
// =============================================================================

// EngagementRecorded is published after the ingestor durably stores a new
// engagement and resolves its lead. Replayed webhooks never produce this
// event twice for the same idempotency key.
type EngagementRecorded struct {
	BaseEvent
	EngagementID uuid.UUID             `json:"engagementId"`
	LeadID       uuid.UUID             `json:"leadId"`
	TenantID     uuid.UUID             `json:"tenantId"`
	Type         domain.EngagementType `json:"type"`
	Platform     domain.Platform       `json:"platform"`
	Sentiment    domain.Sentiment      `json:"sentiment,omitempty"`
	ContentID    string                `json:"contentId,omitempty"`
	ContentTitle string                `json:"contentTitle,omitempty"`
	OccurredTime time.Time             `json:"occurredTime"`
}

func (e EngagementRecorded) EventName() string { return "engagement.recorded" }

// DirectMessageReceived is published when an inbound DM engagement is
// recorded. Rule triggers and sequence branch conditions consume it.
type DirectMessageReceived struct {
	BaseEvent
	EngagementID uuid.UUID       `json:"engagementId"`
	LeadID       uuid.UUID       `json:"leadId"`
	TenantID     uuid.UUID       `json:"tenantId"`
	Platform     domain.Platform `json:"platform"`
	Message      string          `json:"message,omitempty"`
}

func (e DirectMessageReceived) EventName() string { return "engagement.dm.received" }

// LeadStatusChanged is published on every status state machine transition.
type LeadStatusChanged struct {
	BaseEvent
	LeadID   uuid.UUID               `json:"leadId"`
	TenantID uuid.UUID               `json:"tenantId"`
	From     domain.LeadStatus       `json:"from"`
	To       domain.LeadStatus       `json:"to"`
	Reason   domain.TransitionReason `json:"reason"`
	Score    float64                 `json:"score"`
}

func (e LeadStatusChanged) EventName() string { return "leads.status.changed" }

// LeadScoreUpdated is published after the scoring engine folds an
// engagement into a lead's score.
type LeadScoreUpdated struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Previous float64   `json:"previous"`
	Score    float64   `json:"score"`
}

func (e LeadScoreUpdated) EventName() string { return "leads.score.updated" }

// LeadsMerged is published when the identity resolver folds one lead into
// another. The source id remains resolvable as an alias of the canonical id.
type LeadsMerged struct {
	BaseEvent
	CanonicalID uuid.UUID `json:"canonicalId"`
	MergedID    uuid.UUID `json:"mergedId"`
	TenantID    uuid.UUID `json:"tenantId"`
	Channel     string    `json:"channel"` // verified contact channel that linked them
}

func (e LeadsMerged) EventName() string { return "leads.merged" }

// MergeConflictFlagged is published when two leads claim the same verified
// contact with diverging history. Never auto-resolved.
type MergeConflictFlagged struct {
	BaseEvent
	LeadA    uuid.UUID `json:"leadA"`
	LeadB    uuid.UUID `json:"leadB"`
	TenantID uuid.UUID `json:"tenantId"`
	Channel  string    `json:"channel"`
	Detail   string    `json:"detail"`
}

func (e MergeConflictFlagged) EventName() string { return "leads.merge.conflict" }

// =============================================================================
// Outreach Events
// =============================================================================

// ActionDispatched is published after an outbound action passes the Safety
// Governor and the channel send succeeds.
type ActionDispatched struct {
	BaseEvent
	ActionID   uuid.UUID `json:"actionId"`
	LeadID     uuid.UUID `json:"leadId"`
	TenantID   uuid.UUID `json:"tenantId"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"externalId,omitempty"`
	RuleID     string    `json:"ruleId,omitempty"`
}

func (e ActionDispatched) EventName() string { return "outreach.action.dispatched" }

// ActionDeadLettered is published when an outbound action permanently fails
// after its retry.
type ActionDeadLettered struct {
	BaseEvent
	ActionID uuid.UUID `json:"actionId"`
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Channel  string    `json:"channel"`
	Reason   string    `json:"reason"`
}

func (e ActionDeadLettered) EventName() string { return "outreach.action.dead_lettered" }

// ActionDenied is published when the Safety Governor denies an outbound
// action (rate limit or approval-mode gating).
type ActionDenied struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Channel  string    `json:"channel"`
	Reason   string    `json:"reason"`
	Queued   bool      `json:"queued"` // true when queued for manual approval
}

func (e ActionDenied) EventName() string { return "outreach.action.denied" }

// SequenceRunAdvanced is published when a sequence run sends a step or
// terminates (completion, branch mismatch, cancellation).
type SequenceRunAdvanced struct {
	BaseEvent
	RunID      uuid.UUID `json:"runId"`
	SequenceID string    `json:"sequenceId"`
	LeadID     uuid.UUID `json:"leadId"`
	TenantID   uuid.UUID `json:"tenantId"`
	Step       int       `json:"step"`
	Terminal   bool      `json:"terminal"`
	Outcome    string    `json:"outcome"`
}

func (e SequenceRunAdvanced) EventName() string { return "sequences.run.advanced" }
