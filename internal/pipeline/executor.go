package pipeline

import (
	"context"
	"time"

	"leadpulse_backend/internal/governor"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
)

// DMSender delivers one templated message through the governor. Satisfied
// by outreach.Service.
type DMSender interface {
	Send(ctx context.Context, leadID, tenantID uuid.UUID, templateID, ruleID, sequenceID, contentTitle string, now time.Time) (governor.Decision, error)
}

// Enroller starts sequence runs. Satisfied by sequences.Sequencer.
type Enroller interface {
	Enroll(ctx context.Context, leadID, tenantID uuid.UUID, sequenceID string, now time.Time) (*sequences.Run, error)
}

// Notifier delivers team notifications. Satisfied by outreach.TeamNotifier.
type Notifier interface {
	NotifyTeam(ctx context.Context, lead *domain.Lead, message string) error
}

// Executor performs rule actions on behalf of the automation engine. It
// runs on the lead's partition goroutine, so lead mutations here are as
// serialized as the pipeline's own.
type Executor struct {
	pipeline *Pipeline
	sender   DMSender
	enroller Enroller
	notifier Notifier
	log      *logger.Logger
}

// NewExecutor wires the rule action executor. notifier may be nil; team
// notifications then only log.
func NewExecutor(p *Pipeline, sender DMSender, enroller Enroller, notifier Notifier, log *logger.Logger) *Executor {
	return &Executor{pipeline: p, sender: sender, enroller: enroller, notifier: notifier, log: log}
}

// SendDM delivers a templated DM to the lead. A governor denial is not a
// failure of the rule action; the governor already published the denial.
func (x *Executor) SendDM(ctx context.Context, lead *domain.Lead, templateID, ruleID string) error {
	_, err := x.sender.Send(ctx, lead.ID, lead.TenantID, templateID, ruleID, "", "", time.Now().UTC())
	return err
}

// AddTag appends a tag to the lead. Duplicate tags are a no-op.
func (x *Executor) AddTag(ctx context.Context, lead *domain.Lead, tag string) error {
	for _, existing := range lead.Tags {
		if existing == tag {
			return nil
		}
	}
	if err := x.pipeline.store.AddTag(ctx, lead.ID, tag); err != nil {
		return err
	}
	lead.Tags = append(lead.Tags, tag)
	return nil
}

// ChangeStatus applies a rule-driven status transition. The rule id stamps
// the resulting status-change event so the originating rule cannot trigger
// itself, while other rules still see the transition.
func (x *Executor) ChangeStatus(ctx context.Context, lead *domain.Lead, to domain.LeadStatus, ruleID string) error {
	if lead.Status == to {
		return nil
	}
	tr := domain.Transition{From: lead.Status, To: to, Reason: domain.ReasonManual}
	return x.pipeline.applyTransitions(ctx, lead, []domain.Transition{tr}, ruleID)
}

// NotifyTeam alerts the operator about the lead.
func (x *Executor) NotifyTeam(ctx context.Context, lead *domain.Lead, message string) error {
	if x.notifier == nil {
		x.log.Info("team_notification", "lead_id", lead.ID.String(), "message", message)
		return nil
	}
	return x.notifier.NotifyTeam(ctx, lead, message)
}

// Enroll starts the lead on an outreach sequence. An already active run
// for the same sequence is a no-op, handled by the sequencer.
func (x *Executor) Enroll(ctx context.Context, leadID uuid.UUID, sequenceID string) error {
	lead, err := x.pipeline.store.Lead(ctx, leadID)
	if err != nil {
		return err
	}
	_, err = x.enroller.Enroll(ctx, leadID, lead.TenantID, sequenceID, time.Now().UTC())
	return err
}
