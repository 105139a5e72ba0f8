package sequences

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the pgx-backed RunStore plus the engagement-log queries
// that answer branch conditions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new sequences repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const runColumns = `id, sequence_id, lead_id, tenant_id, status, next_step,
	enrolled_at, last_sent_at, ended_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.SequenceID, &run.LeadID, &run.TenantID, &run.Status,
		&run.NextStep, &run.EnrolledAt, &run.LastSentAt, &run.EndedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ActiveRun returns the lead's active run for a sequence, nil when none.
// A partial unique index on (lead_id, sequence_id) WHERE status = 'active'
// backs the at-most-one-active-run invariant.
func (r *Repository) ActiveRun(ctx context.Context, leadID uuid.UUID, sequenceID string) (*Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM sequence_runs
		WHERE lead_id = $1 AND sequence_id = $2 AND status = 'active'
	`, leadID, sequenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// CreateRun persists a new run.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sequence_runs
			(id, sequence_id, lead_id, tenant_id, status, next_step, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.SequenceID, run.LeadID, run.TenantID, run.Status, run.NextStep,
		run.EnrolledAt, run.UpdatedAt)
	return err
}

// ActiveRuns returns every active run, ordered by enrollment for a stable
// tick order.
func (r *Repository) ActiveRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM sequence_runs
		WHERE status = 'active'
		ORDER BY enrolled_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun persists run progress and terminal states.
func (r *Repository) UpdateRun(ctx context.Context, run *Run) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sequence_runs
		SET status = $2, next_step = $3, last_sent_at = $4, ended_at = $5, updated_at = $6
		WHERE id = $1
	`, run.ID, run.Status, run.NextStep, run.LastSentAt, run.EndedAt, run.UpdatedAt)
	return err
}

// Responded reports whether the lead sent a DM after since.
func (r *Repository) Responded(ctx context.Context, leadID uuid.UUID, since time.Time) (bool, error) {
	var responded bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM engagements
			WHERE lead_id = $1 AND type = 'dm' AND occurred_at > $2
		)
	`, leadID, since).Scan(&responded)
	return responded, err
}

// EngagedAgain reports whether any engagement arrived after since.
func (r *Repository) EngagedAgain(ctx context.Context, leadID uuid.UUID, since time.Time) (bool, error) {
	var engaged bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM engagements
			WHERE lead_id = $1 AND occurred_at > $2
		)
	`, leadID, since).Scan(&engaged)
	return engaged, err
}

// SequenceStats aggregates run outcomes for the dashboard. Completion rate
// counts completed runs over ended runs; response rate counts runs whose
// lead responded after the first send.
func (r *Repository) SequenceStats(ctx context.Context, sequenceID string) (Stats, error) {
	stats := Stats{SequenceID: sequenceID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COALESCE(
				COUNT(*) FILTER (WHERE status = 'completed')::float
					/ NULLIF(COUNT(*) FILTER (WHERE status <> 'active'), 0),
				0),
			COALESCE(
				COUNT(*) FILTER (WHERE last_sent_at IS NOT NULL AND EXISTS (
					SELECT 1 FROM engagements e
					WHERE e.lead_id = sequence_runs.lead_id
						AND e.type = 'dm'
						AND e.occurred_at > sequence_runs.last_sent_at
				))::float / NULLIF(COUNT(*) FILTER (WHERE last_sent_at IS NOT NULL), 0),
				0)
		FROM sequence_runs
		WHERE sequence_id = $1
	`, sequenceID).Scan(&stats.LeadsInSequence, &stats.CompletionRate, &stats.ResponseRate)
	return stats, err
}
