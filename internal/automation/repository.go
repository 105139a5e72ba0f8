package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists rule execution state: the per-(rule, lead) fire log
// that makes threshold triggers fire once, and aggregate trigger counters.
// Rule definitions themselves live in tenant configuration, not here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new automation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// HasFired reports whether the rule already fired for the lead.
func (r *Repository) HasFired(ctx context.Context, ruleID string, leadID uuid.UUID) (bool, error) {
	var fired bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM rule_executions WHERE rule_id = $1 AND lead_id = $2)
	`, ruleID, leadID).Scan(&fired)
	return fired, err
}

// MarkFired records the fire. The primary key on (rule_id, lead_id) makes
// replays no-ops, so a fire survives process restarts exactly once.
func (r *Repository) MarkFired(ctx context.Context, ruleID string, leadID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rule_executions (rule_id, lead_id, fired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (rule_id, lead_id) DO NOTHING
	`, ruleID, leadID, at)
	return err
}

// RecordTrigger bumps the rule's aggregate counters after a fire.
func (r *Repository) RecordTrigger(ctx context.Context, ruleID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rule_stats (rule_id, triggered_count, last_triggered_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (rule_id)
		DO UPDATE SET triggered_count = rule_stats.triggered_count + 1, last_triggered_at = $2
	`, ruleID, at)
	return err
}

// RuleStats is the persisted aggregate for one rule.
type RuleStats struct {
	RuleID          string
	TriggeredCount  int64
	LastTriggeredAt *time.Time
}

// LoadStats returns the aggregate counters for every rule that ever fired.
func (r *Repository) LoadStats(ctx context.Context) (map[string]RuleStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rule_id, triggered_count, last_triggered_at FROM rule_stats
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]RuleStats)
	for rows.Next() {
		var s RuleStats
		if err := rows.Scan(&s.RuleID, &s.TriggeredCount, &s.LastTriggeredAt); err != nil {
			return nil, err
		}
		stats[s.RuleID] = s
	}
	return stats, rows.Err()
}
