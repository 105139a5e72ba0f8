package outreach

import (
	"context"
	"time"

	"leadpulse_backend/internal/governor"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeadLetter is one permanently failed outbound action.
type DeadLetter struct {
	ID       uuid.UUID       `json:"id"`
	ActionID uuid.UUID       `json:"actionId"`
	LeadID   uuid.UUID       `json:"leadId"`
	TenantID uuid.UUID       `json:"tenantId"`
	Channel  governor.Channel `json:"channel"`
	Message  string          `json:"message"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failedAt"`
}

// Repository is the pgx-backed DeadLetterStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new outreach repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Add records a permanently failed action.
func (r *Repository) Add(ctx context.Context, action governor.Action, reason string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, action_id, lead_id, tenant_id, channel, message, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), action.ID, action.LeadID, action.TenantID, action.Channel, action.Message, reason, at)
	return err
}

// List returns a tenant's dead letters, newest first.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, action_id, lead_id, tenant_id, channel, message, reason, failed_at
		FROM dead_letters
		WHERE tenant_id = $1
		ORDER BY failed_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.ActionID, &dl.LeadID, &dl.TenantID,
			&dl.Channel, &dl.Message, &dl.Reason, &dl.FailedAt); err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// Count returns the number of dead letters for a tenant.
func (r *Repository) Count(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dead_letters WHERE tenant_id = $1
	`, tenantID).Scan(&count)
	return count, err
}
