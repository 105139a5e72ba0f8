package governor

import (
	"context"
	"errors"
	"time"

	"leadpulse_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReviewStatus is the lifecycle of a queued action.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// QueuedAction is an outbound action held for manual review.
type QueuedAction struct {
	Action
	Status     ReviewStatus
	QueuedAt   time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

// Repository is the pgx-backed ApprovalQueue.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new approval queue repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enqueue stores a pending action. Re-queuing the same action id is a no-op.
func (r *Repository) Enqueue(ctx context.Context, action Action, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pending_actions
			(id, lead_id, tenant_id, channel, template_id, subject, message, rule_id, sequence_id, status, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)
		ON CONFLICT (id) DO NOTHING
	`, action.ID, action.LeadID, action.TenantID, action.Channel, action.TemplateID,
		action.Subject, action.Message, action.RuleID, action.SequenceID, at)
	return err
}

// ListPending returns a tenant's pending actions, oldest first.
func (r *Repository) ListPending(ctx context.Context, tenantID uuid.UUID) ([]QueuedAction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, tenant_id, channel, template_id, subject, message, rule_id, sequence_id, status, queued_at
		FROM pending_actions
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY queued_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queued []QueuedAction
	for rows.Next() {
		var q QueuedAction
		if err := rows.Scan(&q.ID, &q.LeadID, &q.TenantID, &q.Channel, &q.TemplateID,
			&q.Subject, &q.Message, &q.RuleID, &q.SequenceID, &q.Status, &q.QueuedAt); err != nil {
			return nil, err
		}
		queued = append(queued, q)
	}
	return queued, rows.Err()
}

// Resolve marks a pending action approved or rejected and returns it so an
// approval can be handed to the dispatcher. Resolving a non-pending action
// is a conflict.
func (r *Repository) Resolve(ctx context.Context, tenantID, actionID uuid.UUID, status ReviewStatus, reviewer string, at time.Time) (*QueuedAction, error) {
	if status != ReviewApproved && status != ReviewRejected {
		return nil, apperr.Validation("invalid review status")
	}

	var q QueuedAction
	err := r.pool.QueryRow(ctx, `
		UPDATE pending_actions
		SET status = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
		RETURNING id, lead_id, tenant_id, channel, template_id, subject, message, rule_id, sequence_id, status, queued_at
	`, actionID, tenantID, status, reviewer, at).Scan(&q.ID, &q.LeadID, &q.TenantID, &q.Channel,
		&q.TemplateID, &q.Subject, &q.Message, &q.RuleID, &q.SequenceID, &q.Status, &q.QueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Conflict("action is not pending")
	}
	if err != nil {
		return nil, err
	}
	q.ResolvedBy = reviewer
	resolved := at
	q.ResolvedAt = &resolved
	return &q, nil
}

// PendingCount returns the size of a tenant's approval queue.
func (r *Repository) PendingCount(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM pending_actions WHERE tenant_id = $1 AND status = 'pending'
	`, tenantID).Scan(&count)
	return count, err
}
