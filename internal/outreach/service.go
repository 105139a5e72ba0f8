package outreach

import (
	"context"
	"time"

	"leadpulse_backend/internal/governor"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/platform/apperr"

	"github.com/google/uuid"
)

// TemplateCatalog resolves templates from tenant configuration.
type TemplateCatalog interface {
	Template(id string) (Template, bool)
}

// PolicyProvider resolves a tenant's governor policy.
type PolicyProvider interface {
	Policy(tenantID uuid.UUID) governor.Policy
}

// LeadSource provides the lead data needed to render and address messages.
type LeadSource interface {
	Lead(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error)
	PrimaryProfile(ctx context.Context, leadID uuid.UUID) (*domain.SocialProfile, error)
	RecordOutreach(ctx context.Context, leadID uuid.UUID, channel string, at time.Time) error
}

// Service is the single send path for rules and sequences: render the
// template, ask the governor, then dispatch. It never bypasses the governor.
type Service struct {
	templates  TemplateCatalog
	policies   PolicyProvider
	gov        *governor.Governor
	dispatcher *Dispatcher
	leads      LeadSource
}

// NewService wires the outreach service.
func NewService(templates TemplateCatalog, policies PolicyProvider, gov *governor.Governor, dispatcher *Dispatcher, leads LeadSource) *Service {
	return &Service{templates: templates, policies: policies, gov: gov, dispatcher: dispatcher, leads: leads}
}

// Send renders and delivers a template to a lead. A governor denial is not
// an error: the decision is returned so callers can count denials without
// aborting their own flow.
func (s *Service) Send(ctx context.Context, leadID, tenantID uuid.UUID, templateID, ruleID, sequenceID, contentTitle string, now time.Time) (governor.Decision, error) {
	tpl, ok := s.templates.Template(templateID)
	if !ok {
		return governor.Decision{}, apperr.NotFound("template not found")
	}
	if !tpl.IsActive {
		return governor.Decision{}, apperr.Validation("template is not active")
	}

	lead, err := s.leads.Lead(ctx, leadID)
	if err != nil {
		return governor.Decision{}, err
	}
	profile, err := s.leads.PrimaryProfile(ctx, leadID)
	if err != nil {
		return governor.Decision{}, err
	}

	vars := VarsForLead(lead, profile, contentTitle)
	action := governor.Action{
		ID:         uuid.New(),
		LeadID:     leadID,
		TenantID:   tenantID,
		Channel:    governor.Channel(tpl.Channel),
		TemplateID: tpl.ID,
		Subject:    Template{Message: tpl.Subject}.Render(vars),
		Message:    tpl.Render(vars),
		RuleID:     ruleID,
		SequenceID: sequenceID,
	}

	decision, err := s.gov.Authorize(ctx, s.policies.Policy(tenantID), action, now)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	if err := s.dispatcher.Dispatch(ctx, action, s.recipient(lead, profile, action.Channel)); err != nil {
		return decision, err
	}
	if err := s.leads.RecordOutreach(ctx, leadID, string(action.Channel), now); err != nil {
		return decision, err
	}
	return decision, nil
}

// SendStep delivers one sequence step, satisfying the sequencer's sender
// contract. A denial surfaces as a rate-limit error so the run retries on
// a later tick instead of skipping the step.
func (s *Service) SendStep(ctx context.Context, run *sequences.Run, templateID string) error {
	decision, err := s.Send(ctx, run.LeadID, run.TenantID, templateID, "", run.SequenceID, "", time.Now().UTC())
	if err != nil {
		return err
	}
	if !decision.Allowed && !decision.Queued {
		return apperr.RateLimited(decision.Reason)
	}
	return nil
}

// DispatchApproved delivers an action released from the manual approval
// queue. The governor already made its decision when the action was
// queued; approval only needs delivery and the outreach bookkeeping.
func (s *Service) DispatchApproved(ctx context.Context, action governor.Action, now time.Time) error {
	lead, err := s.leads.Lead(ctx, action.LeadID)
	if err != nil {
		return err
	}
	profile, err := s.leads.PrimaryProfile(ctx, action.LeadID)
	if err != nil {
		return err
	}
	if err := s.dispatcher.Dispatch(ctx, action, s.recipient(lead, profile, action.Channel)); err != nil {
		return err
	}
	return s.leads.RecordOutreach(ctx, action.LeadID, string(action.Channel), now)
}

func (s *Service) recipient(lead *domain.Lead, profile *domain.SocialProfile, channel governor.Channel) string {
	switch channel {
	case governor.ChannelEmail:
		return lead.Email
	case governor.ChannelSMS:
		return lead.Phone
	default:
		if profile != nil {
			return profile.Username
		}
		return ""
	}
}
