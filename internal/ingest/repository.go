package ingest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"leadpulse_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAPIKeyNotFound is returned when no active key matches a hash.
var ErrAPIKeyNotFound = errors.New("ingest API key not found")

// Repository persists the append-only engagement log and the webhook API
// keys that authenticate deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new ingest repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const engagementColumns = `id, lead_id, type, platform, content_id, content_title,
	message, sentiment, occurred_at, metadata, idempotency_key`

// Insert appends one engagement. The unique index on idempotency_key makes
// replays no-ops; for a replay the already-stored row is returned with
// inserted=false.
func (r *Repository) Insert(ctx context.Context, e *domain.Engagement) (*domain.Engagement, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO engagements (`+engagementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, e.ID, e.LeadID, e.Type, e.Platform, e.ContentID, e.ContentTitle,
		e.Message, nullIfEmpty(string(e.Sentiment)), e.OccurredAt, e.Metadata, e.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}
	stored, err := r.GetByIdempotencyKey(ctx, e.IdempotencyKey)
	return stored, false, err
}

// GetByIdempotencyKey returns the engagement stored under a dedupe key.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Engagement, error) {
	return scanEngagement(r.pool.QueryRow(ctx, `
		SELECT `+engagementColumns+` FROM engagements WHERE idempotency_key = $1
	`, key))
}

// History returns a lead's engagements in occurrence order, the replay
// input for score recomputation.
func (r *Repository) History(ctx context.Context, leadID uuid.UUID) ([]domain.Engagement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+engagementColumns+`
		FROM engagements
		WHERE lead_id = $1
		ORDER BY occurred_at, id
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *e)
	}
	return history, rows.Err()
}

func scanEngagement(row pgx.Row) (*domain.Engagement, error) {
	var e domain.Engagement
	var sentiment *string
	err := row.Scan(&e.ID, &e.LeadID, &e.Type, &e.Platform, &e.ContentID, &e.ContentTitle,
		&e.Message, &sentiment, &e.OccurredAt, &e.Metadata, &e.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if sentiment != nil {
		e.Sentiment = domain.Sentiment(*sentiment)
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// APIKey authenticates one webhook source for a tenant. Only the SHA-256
// hash of the key is stored; the prefix is kept for display.
type APIKey struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	KeyHash    string
	KeyPrefix  string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// GenerateAPIKey creates a random key, returning the plaintext (shown to
// the caller exactly once), its hash, and the display prefix.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = "lp_" + hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), plaintext[:10], nil
}

// HashKey hashes a plaintext API key for lookup.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// CreateAPIKey stores a new key.
func (r *Repository) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name, keyHash, keyPrefix string) (APIKey, error) {
	key := APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.IsActive, key.CreatedAt)
	return key, err
}

// GetAPIKeyByHash returns the active key matching a hash and touches its
// last-used timestamp.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `
		UPDATE api_keys SET last_used_at = now()
		WHERE key_hash = $1 AND is_active
		RETURNING id, tenant_id, name, key_hash, key_prefix, is_active, created_at, last_used_at
	`, keyHash).Scan(&key.ID, &key.TenantID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.IsActive, &key.CreatedAt, &key.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return key, err
}

// ListAPIKeys returns a tenant's keys, newest first.
func (r *Repository) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, key_hash, key_prefix, is_active, created_at, last_used_at
		FROM api_keys
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.TenantID, &key.Name, &key.KeyHash, &key.KeyPrefix,
			&key.IsActive, &key.CreatedAt, &key.LastUsedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeactivateAPIKey revokes a key.
func (r *Repository) DeactivateAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = false WHERE id = $1 AND tenant_id = $2
	`, keyID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
