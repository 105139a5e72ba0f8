package leads

import (
	"context"
	"time"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/leads/scoring"
	"leadpulse_backend/platform/apperr"
	"leadpulse_backend/platform/logger"
	"leadpulse_backend/platform/sanitize"

	"github.com/google/uuid"
)

// StatusChanger applies manual lifecycle transitions through the pipeline
// so they run on the lead's partition. Satisfied by pipeline.Pipeline.
type StatusChanger interface {
	Convert(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error)
	Churn(ctx context.Context, leadID uuid.UUID, reason domain.TransitionReason) (*domain.Lead, error)
}

// PendingCounter reports the approval queue depth. Satisfied by
// governor.Repository.
type PendingCounter interface {
	PendingCount(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// DeadLetterCounter reports permanently failed outbound sends. Satisfied by
// outreach.Repository.
type DeadLetterCounter interface {
	Count(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// TagMergeConflict marks leads whose merge was blocked by diverging verified
// contact data. Applied by the merge-conflict event handler.
const TagMergeConflict = "merge-conflict"

// Service implements the roster read side and the manual lead actions.
type Service struct {
	repo        *Repository
	statuses    StatusChanger
	model       scoring.Model
	log         *logger.Logger
	now         func() time.Time
	pending     PendingCounter
	deadLetters DeadLetterCounter
}

// NewService wires the leads service.
func NewService(repo *Repository, statuses StatusChanger, model scoring.Model, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		statuses: statuses,
		model:    model,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetActionCounters injects the outbound queue counters surfaced in Stats.
// Wired at the composition root; nil counters leave the fields at zero.
func (s *Service) SetActionCounters(pending PendingCounter, deadLetters DeadLetterCounter) {
	s.pending = pending
	s.deadLetters = deadLetters
}

// List returns the tenant's leads with scores decayed to the read instant.
// Decay is computed lazily; nothing is written back.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, f Filter) ([]*domain.Lead, error) {
	leads, err := s.repo.List(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, lead := range leads {
		lead.Score = s.model.AtRead(lead.Score, lead.LastEngagedAt, now)
	}
	return leads, nil
}

// Get returns one lead with its effective score. Also enforces tenant
// ownership, which the repository id lookup alone does not.
func (s *Service) Get(ctx context.Context, tenantID, leadID uuid.UUID) (*domain.Lead, error) {
	lead, err := s.repo.Lead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.TenantID != tenantID {
		return nil, apperr.NotFound("lead not found")
	}
	lead.Score = s.model.AtRead(lead.Score, lead.LastEngagedAt, s.now())
	return lead, nil
}

// Engagements returns the lead's engagement history.
func (s *Service) Engagements(ctx context.Context, tenantID, leadID uuid.UUID, limit int) ([]domain.Engagement, error) {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return s.repo.Engagements(ctx, leadID, limit)
}

// RecentEngagements returns the tenant's newest engagements, newest first.
func (s *Service) RecentEngagements(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Engagement, error) {
	return s.repo.RecentEngagements(ctx, tenantID, limit)
}

// Profiles returns the lead's social profiles.
func (s *Service) Profiles(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.SocialProfile, error) {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return s.repo.Profiles(ctx, leadID)
}

// Convert marks the lead as customer.
func (s *Service) Convert(ctx context.Context, tenantID, leadID uuid.UUID) (*domain.Lead, error) {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return s.statuses.Convert(ctx, leadID)
}

// Churn manually archives the lead.
func (s *Service) Churn(ctx context.Context, tenantID, leadID uuid.UUID) (*domain.Lead, error) {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return s.statuses.Churn(ctx, leadID, domain.ReasonManual)
}

// SweepInactive churns every lead whose last engagement is older than the
// inactivity window. Customers and churned leads are excluded by the query.
func (s *Service) SweepInactive(ctx context.Context, inactivityDays int, now time.Time) (int, error) {
	if inactivityDays <= 0 {
		inactivityDays = 60
	}
	cutoff := now.AddDate(0, 0, -inactivityDays)
	ids, err := s.repo.InactiveLeads(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	churned := 0
	for _, id := range ids {
		if _, err := s.statuses.Churn(ctx, id, domain.ReasonInactivity); err != nil {
			s.log.PipelineError("inactivity_sweep", id.String(), err)
			continue
		}
		churned++
	}
	return churned, nil
}

// AddTag attaches a tag to the lead.
func (s *Service) AddTag(ctx context.Context, tenantID, leadID uuid.UUID, tag string) error {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return err
	}
	return s.repo.AddTag(ctx, leadID, sanitize.Text(tag))
}

// RemoveTag detaches a tag from the lead.
func (s *Service) RemoveTag(ctx context.Context, tenantID, leadID uuid.UUID, tag string) error {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return err
	}
	return s.repo.RemoveTag(ctx, leadID, tag)
}

// AddNote appends a note to the lead's log.
func (s *Service) AddNote(ctx context.Context, tenantID, leadID uuid.UUID, author, body string) (*domain.Note, error) {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	note := &domain.Note{
		ID:        uuid.New(),
		LeadID:    leadID,
		Author:    author,
		Body:      sanitize.Text(body),
		CreatedAt: s.now(),
	}
	if err := s.repo.AddNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

// Notes returns the lead's note log.
func (s *Service) Notes(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Note, error) {
	if _, err := s.Get(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return s.repo.Notes(ctx, leadID)
}

// Stats is the dashboard aggregate for one tenant.
type Stats struct {
	Total          int64                       `json:"total"`
	ByStatus       map[domain.LeadStatus]int64 `json:"byStatus"`
	MergeConflicts int64                       `json:"mergeConflicts"`
	PendingActions int64                       `json:"pendingActions"`
	DeadLetters    int64                       `json:"deadLetters"`
}

// Stats returns the tenant's lead counts per status plus outbound queue
// health.
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID) (Stats, error) {
	counts, err := s.repo.StatusCounts(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStatus: counts}
	for _, count := range counts {
		stats.Total += count
	}

	conflicts, err := s.repo.TagCount(ctx, tenantID, TagMergeConflict)
	if err != nil {
		return Stats{}, err
	}
	stats.MergeConflicts = conflicts

	if s.pending != nil {
		pending, err := s.pending.PendingCount(ctx, tenantID)
		if err != nil {
			return Stats{}, err
		}
		stats.PendingActions = pending
	}
	if s.deadLetters != nil {
		dead, err := s.deadLetters.Count(ctx, tenantID)
		if err != nil {
			return Stats{}, err
		}
		stats.DeadLetters = dead
	}
	return stats, nil
}
