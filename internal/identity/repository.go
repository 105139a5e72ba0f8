package identity

import (
	"context"
	"time"

	"leadpulse_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the identity graph: leads, their profiles, and the
// alias table that keeps merged lead ids resolvable.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new identity repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateLead persists a new lead and its first profile in one transaction.
func (r *Repository) CreateLead(ctx context.Context, lead *domain.Lead, profile *domain.SocialProfile) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO leads (id, tenant_id, primary_platform, email, phone, status, score, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		`, lead.ID, lead.TenantID, lead.PrimaryPlatform, nullable(lead.Email), nullable(lead.Phone), lead.Status, lead.CreatedAt, lead.UpdatedAt)
		if err != nil {
			return err
		}
		return insertProfile(ctx, tx, profile)
	})
}

// AttachProfile persists an additional profile on an existing lead.
func (r *Repository) AttachProfile(ctx context.Context, profile *domain.SocialProfile) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return insertProfile(ctx, tx, profile)
	})
}

func insertProfile(ctx context.Context, tx pgx.Tx, p *domain.SocialProfile) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO social_profiles
			(id, lead_id, platform, username, display_name, follower_count, following_count,
			 is_verified, is_business, email, phone, website, created_at, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, p.ID, p.LeadID, p.Platform, p.Username, p.DisplayName, p.FollowerCount, p.FollowingCount,
		p.IsVerified, p.IsBusiness, nullable(p.Email), nullable(p.Phone), nullable(p.Website))
	return err
}

// MergeLeads folds the merged lead into the canonical one: engagements,
// profiles, and counters move over, first/last engagement timestamps widen,
// and the merged id is recorded as an alias. The merged lead row stays for
// audit history. Counter addition happens in a single statement so the sum
// is applied exactly once even under concurrent merge attempts.
func (r *Repository) MergeLeads(ctx context.Context, canonicalID, mergedID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Alias insert doubles as the merge guard: a repeated merge hits the
		// primary key and aborts before any counter is double-applied.
		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_aliases (alias_id, canonical_id, created_at)
			VALUES ($1, $2, now())
			ON CONFLICT (alias_id) DO NOTHING
		`, mergedID, canonicalID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE leads SET merged_into = $1, updated_at = now()
			WHERE id = $2 AND merged_into IS NULL
		`, canonicalID, mergedID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Already merged; nothing more to apply.
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE engagements SET lead_id = $1 WHERE lead_id = $2
		`, canonicalID, mergedID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE social_profiles SET lead_id = $1 WHERE lead_id = $2
		`, canonicalID, mergedID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_counters (lead_id, dimension, key, count)
			SELECT $1, dimension, key, count FROM lead_counters WHERE lead_id = $2
			ON CONFLICT (lead_id, dimension, key)
			DO UPDATE SET count = lead_counters.count + EXCLUDED.count
		`, canonicalID, mergedID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM lead_counters WHERE lead_id = $1
		`, mergedID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE leads c SET
				first_engaged_at = LEAST(c.first_engaged_at, m.first_engaged_at),
				last_engaged_at  = GREATEST(c.last_engaged_at, m.last_engaged_at),
				outreach_count   = c.outreach_count + m.outreach_count,
				dm_sent          = c.dm_sent OR m.dm_sent,
				updated_at       = now()
			FROM leads m
			WHERE c.id = $1 AND m.id = $2
		`, canonicalID, mergedID)
		return err
	})
}

// RefreshProfileCounters updates the only mutable fields of a profile.
func (r *Repository) RefreshProfileCounters(ctx context.Context, profileID uuid.UUID, followers, following int, refreshedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE social_profiles
		SET follower_count = $2, following_count = $3, refreshed_at = $4
		WHERE id = $1
	`, profileID, followers, following, refreshedAt)
	return err
}

// SeedRecord is one persisted identity row used to rebuild the resolver.
type SeedRecord struct {
	LeadID    uuid.UUID
	CreatedAt time.Time
}

// AliasRecord is one persisted alias pair.
type AliasRecord struct {
	AliasID     uuid.UUID
	CanonicalID uuid.UUID
}

// LoadLeads returns every lead node for a tenant (canonical and merged).
func (r *Repository) LoadLeads(ctx context.Context, tenantID uuid.UUID) ([]SeedRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, created_at FROM leads WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SeedRecord
	for rows.Next() {
		var rec SeedRecord
		if err := rows.Scan(&rec.LeadID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadAliases returns every alias pair for a tenant.
func (r *Repository) LoadAliases(ctx context.Context, tenantID uuid.UUID) ([]AliasRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.alias_id, a.canonical_id
		FROM lead_aliases a
		JOIN leads l ON l.id = a.alias_id
		WHERE l.tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AliasRecord
	for rows.Next() {
		var rec AliasRecord
		if err := rows.Scan(&rec.AliasID, &rec.CanonicalID); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadProfiles returns every profile for a tenant.
func (r *Repository) LoadProfiles(ctx context.Context, tenantID uuid.UUID) ([]domain.SocialProfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.lead_id, p.platform, p.username, p.display_name,
			p.follower_count, p.following_count, p.is_verified, p.is_business,
			COALESCE(p.email, ''), COALESCE(p.phone, ''), COALESCE(p.website, ''),
			p.created_at, p.refreshed_at
		FROM social_profiles p
		JOIN leads l ON l.id = p.lead_id
		WHERE l.tenant_id = $1
	`, tenantID)
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

// LoadResolver rebuilds a tenant's resolver state from storage.
func LoadResolver(ctx context.Context, repo *Repository, resolver *Resolver, tenantID uuid.UUID) error {
	leadRecords, err := repo.LoadLeads(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, rec := range leadRecords {
		resolver.Seed(rec.LeadID, rec.CreatedAt)
	}

	aliases, err := repo.LoadAliases(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, rec := range aliases {
		resolver.SeedAlias(rec.AliasID, rec.CanonicalID)
	}

	profiles, err := repo.LoadProfiles(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		resolver.SeedProfile(p)
	}
	return nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
