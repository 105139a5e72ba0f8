// Package leads exposes the lead roster: querying, manual status actions,
// notes, tags, and the dashboard aggregates.
package leads

import (
	"context"
	"time"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	counterDimType   = "type"
	counterDimOrigin = "origin"
)

// Filter narrows a lead listing. Zero values mean no constraint.
type Filter struct {
	Status        domain.LeadStatus
	Platform      domain.Platform
	MinScore      float64
	MaxScore      float64
	Tag           string
	EngagedAfter  *time.Time
	EngagedBefore *time.Time
	Search        string
	Limit         int
	Offset        int
}

// Repository persists leads and their satellite rows. It is the storage
// behind the pipeline, the outreach sender, and the roster endpoints.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new leads repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Lead loads one lead by id, following merges to the canonical lead so an
// id that was merged away keeps resolving.
func (r *Repository) Lead(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	id := leadID
	for range [8]int{} {
		lead, mergedInto, err := r.leadRow(ctx, id)
		if err != nil {
			return nil, err
		}
		if mergedInto == nil {
			if err := r.loadCounters(ctx, lead); err != nil {
				return nil, err
			}
			return lead, nil
		}
		id = *mergedInto
	}
	return nil, apperr.Internal("merge chain too deep")
}

func (r *Repository) leadRow(ctx context.Context, id uuid.UUID) (*domain.Lead, *uuid.UUID, error) {
	lead := &domain.Lead{}
	var mergedInto *uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, primary_platform, COALESCE(email, ''), COALESCE(phone, ''),
			status, score, first_engaged_at, last_engaged_at,
			dm_sent, outreach_count, last_outreach_at,
			interests, tags, merged_into, created_at, updated_at
		FROM leads WHERE id = $1
	`, id).Scan(&lead.ID, &lead.TenantID, &lead.PrimaryPlatform, &lead.Email, &lead.Phone,
		&lead.Status, &lead.Score, &lead.FirstEngagedAt, &lead.LastEngagedAt,
		&lead.DMSent, &lead.OutreachCount, &lead.LastOutreachAt,
		&lead.Interests, &lead.Tags, &mergedInto, &lead.CreatedAt, &lead.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil, apperr.NotFound("lead not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return lead, mergedInto, nil
}

func (r *Repository) loadCounters(ctx context.Context, lead *domain.Lead) error {
	rows, err := r.pool.Query(ctx, `
		SELECT dimension, key, count FROM lead_counters WHERE lead_id = $1
	`, lead.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	lead.CountersByType = make(map[domain.EngagementType]int64)
	lead.CountersByOrigin = make(map[domain.Platform]int64)
	for rows.Next() {
		var dimension, key string
		var count int64
		if err := rows.Scan(&dimension, &key, &count); err != nil {
			return err
		}
		switch dimension {
		case counterDimType:
			lead.CountersByType[domain.EngagementType(key)] = count
		case counterDimOrigin:
			lead.CountersByOrigin[domain.Platform(key)] = count
		}
	}
	return rows.Err()
}

// SaveLead writes the lead's mutable state and its counters. The pipeline
// serializes writes per lead, so absolute counter values are safe here.
func (r *Repository) SaveLead(ctx context.Context, lead *domain.Lead) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE leads SET
				status = $2, score = $3,
				first_engaged_at = $4, last_engaged_at = $5,
				dm_sent = $6, outreach_count = $7, last_outreach_at = $8,
				interests = $9, tags = $10, updated_at = $11
			WHERE id = $1
		`, lead.ID, lead.Status, lead.Score,
			lead.FirstEngagedAt, lead.LastEngagedAt,
			lead.DMSent, lead.OutreachCount, lead.LastOutreachAt,
			lead.Interests, lead.Tags, lead.UpdatedAt)
		if err != nil {
			return err
		}
		if err := saveCounters(ctx, tx, lead.ID, counterDimType, toStringCounts(lead.CountersByType)); err != nil {
			return err
		}
		return saveCounters(ctx, tx, lead.ID, counterDimOrigin, toStringCountsP(lead.CountersByOrigin))
	})
}

func toStringCounts(m map[domain.EngagementType]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func toStringCountsP(m map[domain.Platform]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func saveCounters(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, dimension string, counts map[string]int64) error {
	for key, count := range counts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_counters (lead_id, dimension, key, count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (lead_id, dimension, key) DO UPDATE SET count = EXCLUDED.count
		`, leadID, dimension, key, count); err != nil {
			return err
		}
	}
	return nil
}

// AddTag appends a tag unless the lead already carries it.
func (r *Repository) AddTag(ctx context.Context, leadID uuid.UUID, tag string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET tags = array_append(tags, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(tags))
	`, leadID, tag)
	return err
}

// RemoveTag removes a tag; absent tags are a no-op.
func (r *Repository) RemoveTag(ctx context.Context, leadID uuid.UUID, tag string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET tags = array_remove(tags, $2), updated_at = now()
		WHERE id = $1
	`, leadID, tag)
	return err
}

// PrimaryProfile returns the lead's profile on its primary platform,
// falling back to the oldest profile when none matches.
func (r *Repository) PrimaryProfile(ctx context.Context, leadID uuid.UUID) (*domain.SocialProfile, error) {
	p := &domain.SocialProfile{}
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, p.lead_id, p.platform, p.username, p.display_name,
			p.follower_count, p.following_count, p.is_verified, p.is_business,
			COALESCE(p.email, ''), COALESCE(p.phone, ''), COALESCE(p.website, ''),
			p.created_at, p.refreshed_at
		FROM social_profiles p
		JOIN leads l ON l.id = p.lead_id
		WHERE p.lead_id = $1
		ORDER BY (p.platform = l.primary_platform) DESC, p.created_at ASC
		LIMIT 1
	`, leadID).Scan(&p.ID, &p.LeadID, &p.Platform, &p.Username, &p.DisplayName,
		&p.FollowerCount, &p.FollowingCount, &p.IsVerified, &p.IsBusiness,
		&p.Email, &p.Phone, &p.Website, &p.CreatedAt, &p.RefreshedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("lead has no profiles")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Profiles returns every profile attached to the lead.
func (r *Repository) Profiles(ctx context.Context, leadID uuid.UUID) ([]domain.SocialProfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, platform, username, display_name,
			follower_count, following_count, is_verified, is_business,
			COALESCE(email, ''), COALESCE(phone, ''), COALESCE(website, ''),
			created_at, refreshed_at
		FROM social_profiles WHERE lead_id = $1
		ORDER BY created_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.SocialProfile
	for rows.Next() {
		var p domain.SocialProfile
		if err := rows.Scan(&p.ID, &p.LeadID, &p.Platform, &p.Username, &p.DisplayName,
			&p.FollowerCount, &p.FollowingCount, &p.IsVerified, &p.IsBusiness,
			&p.Email, &p.Phone, &p.Website, &p.CreatedAt, &p.RefreshedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// RecordOutreach marks a successful outbound send on the lead.
func (r *Repository) RecordOutreach(ctx context.Context, leadID uuid.UUID, channel string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET
			outreach_count = outreach_count + 1,
			last_outreach_at = $2,
			dm_sent = dm_sent OR $3,
			updated_at = now()
		WHERE id = $1
	`, leadID, at, channel == "dm")
	return err
}

// List returns the tenant's canonical leads matching the filter, ordered
// by stored score descending. Merged-away rows are excluded.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, f Filter) ([]*domain.Lead, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, primary_platform, COALESCE(email, ''), COALESCE(phone, ''),
			status, score, first_engaged_at, last_engaged_at,
			dm_sent, outreach_count, last_outreach_at,
			interests, tags, created_at, updated_at
		FROM leads
		WHERE tenant_id = $1
			AND merged_into IS NULL
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR primary_platform = $3)
			AND score >= $4
			AND ($5::float8 <= 0 OR score <= $5)
			AND ($6 = '' OR $6 = ANY(tags))
			AND ($7::timestamptz IS NULL OR last_engaged_at >= $7)
			AND ($8::timestamptz IS NULL OR last_engaged_at <= $8)
			AND ($9 = '' OR COALESCE(email, '') ILIKE '%' || $9 || '%' OR EXISTS (
				SELECT 1 FROM social_profiles p
				WHERE p.lead_id = leads.id
					AND (p.username ILIKE '%' || $9 || '%' OR p.display_name ILIKE '%' || $9 || '%')
			))
		ORDER BY score DESC, created_at ASC
		LIMIT $10 OFFSET $11
	`, tenantID, string(f.Status), string(f.Platform), f.MinScore, f.MaxScore, f.Tag,
		f.EngagedAfter, f.EngagedBefore, f.Search, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		lead := &domain.Lead{}
		if err := rows.Scan(&lead.ID, &lead.TenantID, &lead.PrimaryPlatform, &lead.Email, &lead.Phone,
			&lead.Status, &lead.Score, &lead.FirstEngagedAt, &lead.LastEngagedAt,
			&lead.DMSent, &lead.OutreachCount, &lead.LastOutreachAt,
			&lead.Interests, &lead.Tags, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// Engagements returns the lead's engagement history, oldest first.
func (r *Repository) Engagements(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Engagement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, type, platform, COALESCE(content_id, ''), COALESCE(content_title, ''),
			COALESCE(message, ''), COALESCE(sentiment, ''), occurred_at, idempotency_key
		FROM engagements
		WHERE lead_id = $1
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.Engagement
	for rows.Next() {
		var e domain.Engagement
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Type, &e.Platform, &e.ContentID, &e.ContentTitle,
			&e.Message, &e.Sentiment, &e.OccurredAt, &e.IdempotencyKey); err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// RecentEngagements returns the tenant's newest engagements across all
// leads, the dashboard activity feed.
func (r *Repository) RecentEngagements(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Engagement, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.lead_id, e.type, e.platform, COALESCE(e.content_id, ''), COALESCE(e.content_title, ''),
			COALESCE(e.message, ''), COALESCE(e.sentiment, ''), e.occurred_at, e.idempotency_key
		FROM engagements e
		JOIN leads l ON l.id = e.lead_id
		WHERE l.tenant_id = $1
		ORDER BY e.occurred_at DESC, e.id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feed []domain.Engagement
	for rows.Next() {
		var e domain.Engagement
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Type, &e.Platform, &e.ContentID, &e.ContentTitle,
			&e.Message, &e.Sentiment, &e.OccurredAt, &e.IdempotencyKey); err != nil {
			return nil, err
		}
		feed = append(feed, e)
	}
	return feed, rows.Err()
}

// InactiveLeads returns canonical leads with no engagement since the
// cutoff, excluding customers and already churned leads. The inactivity
// sweep churns them.
func (r *Repository) InactiveLeads(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM leads
		WHERE merged_into IS NULL
			AND status NOT IN ($1, $2)
			AND last_engaged_at IS NOT NULL
			AND last_engaged_at < $3
	`, domain.StatusCustomer, domain.StatusChurned, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TagCount returns how many canonical leads carry the tag.
func (r *Repository) TagCount(ctx context.Context, tenantID uuid.UUID, tag string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads
		WHERE tenant_id = $1 AND merged_into IS NULL AND $2 = ANY(tags)
	`, tenantID, tag).Scan(&count)
	return count, err
}

// StatusCounts returns the tenant's lead count per status.
func (r *Repository) StatusCounts(ctx context.Context, tenantID uuid.UUID) (map[domain.LeadStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM leads
		WHERE tenant_id = $1 AND merged_into IS NULL
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.LeadStatus]int64)
	for rows.Next() {
		var status domain.LeadStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// AddNote appends a note to the lead's log.
func (r *Repository) AddNote(ctx context.Context, note *domain.Note) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_notes (id, lead_id, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, note.LeadID, note.Author, note.Body, note.CreatedAt)
	return err
}

// Notes returns the lead's notes, newest first.
func (r *Repository) Notes(ctx context.Context, leadID uuid.UUID) ([]domain.Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, author, body, created_at
		FROM lead_notes WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Author, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
