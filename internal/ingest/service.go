// Package ingest is the webhook entry point for engagement events:
// validation, normalization, idempotent persistence, and hand-off to the
// per-lead pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"leadpulse_backend/internal/identity"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/apperr"
	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/logger"
	"leadpulse_backend/platform/sanitize"

	"github.com/google/uuid"
)

// RawProfile is the profile identity attached to an inbound event.
type RawProfile struct {
	Username       string `json:"username" binding:"required"`
	DisplayName    string `json:"displayName"`
	FollowerCount  int    `json:"followerCount"`
	FollowingCount int    `json:"followingCount"`
	IsVerified     bool   `json:"isVerified"`
	IsBusiness     bool   `json:"isBusiness"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Website        string `json:"website"`
}

// RawEvent is one inbound engagement event as delivered by a platform
// webhook.
type RawEvent struct {
	Platform     string            `json:"platform" binding:"required"`
	Type         string            `json:"type" binding:"required"`
	Profile      RawProfile        `json:"profile" binding:"required"`
	ContentID    string            `json:"contentId"`
	ContentTitle string            `json:"contentTitle"`
	Message      string            `json:"message"`
	Sentiment    string            `json:"sentiment"`
	Timestamp    time.Time         `json:"timestamp" binding:"required"`
	Metadata     map[string]string `json:"metadata"`
}

// EngagementStore is the append-only engagement log. Satisfied by
// ingest.Repository.
type EngagementStore interface {
	Insert(ctx context.Context, e *domain.Engagement) (*domain.Engagement, bool, error)
}

// ResolverProvider hands out per-tenant identity resolvers. Satisfied by
// identity.Registry.
type ResolverProvider interface {
	For(ctx context.Context, tenantID uuid.UUID) (*identity.Resolver, error)
}

// Forwarder receives accepted engagements for pipeline processing.
type Forwarder interface {
	Forward(ctx context.Context, tenantID uuid.UUID, engagement *domain.Engagement, leadCreated bool) error
}

// Archiver stores the raw payload of accepted deliveries.
type Archiver interface {
	Archive(ctx context.Context, tenantID uuid.UUID, key string, payload []byte) error
}

// Result is the ingest outcome. Duplicate deliveries return the stored
// engagement with Duplicate set; callers treat that as success.
type Result struct {
	Engagement *domain.Engagement
	Duplicate  bool
}

// Service validates and persists inbound events.
type Service struct {
	repo      EngagementStore
	resolvers ResolverProvider
	forwarder Forwarder
	archiver  Archiver
	cfg       config.IngestConfig
	log       *logger.Logger
	now       func() time.Time
}

// NewService wires the ingest service. archiver may be nil when no object
// store is configured.
func NewService(repo EngagementStore, resolvers ResolverProvider, forwarder Forwarder, archiver Archiver, cfg config.IngestConfig, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		resolvers: resolvers,
		forwarder: forwarder,
		archiver:  archiver,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates one raw event, resolves its profile to a lead, and
// persists the engagement exactly once. Replays of the same delivery return
// the stored engagement without touching scores.
func (s *Service) Ingest(ctx context.Context, tenantID uuid.UUID, raw RawEvent, rawPayload []byte) (Result, error) {
	engagement, err := s.normalize(raw)
	if err != nil {
		s.log.IngestRejected(raw.Platform, raw.Type, err.Error())
		return Result{}, err
	}

	resolver, err := s.resolvers.For(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	handle, err := resolver.Resolve(ctx, domain.SocialProfile{
		Platform:       engagement.Platform,
		Username:       raw.Profile.Username,
		DisplayName:    sanitize.Text(raw.Profile.DisplayName),
		FollowerCount:  raw.Profile.FollowerCount,
		FollowingCount: raw.Profile.FollowingCount,
		IsVerified:     raw.Profile.IsVerified,
		IsBusiness:     raw.Profile.IsBusiness,
		Email:          raw.Profile.Email,
		Phone:          raw.Profile.Phone,
		Website:        raw.Profile.Website,
	})
	if err != nil {
		return Result{}, err
	}
	engagement.LeadID = handle.LeadID

	stored, inserted, err := s.repo.Insert(ctx, engagement)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// Same external delivery replayed: idempotent success, no score
		// change, nothing forwarded.
		return Result{Engagement: stored, Duplicate: true}, nil
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, tenantID, stored.IdempotencyKey, rawPayload); err != nil {
			s.log.Warn("raw_payload_archive_failed", "key", stored.IdempotencyKey, "error", err.Error())
		}
	}

	if err := s.forwarder.Forward(ctx, tenantID, stored, handle.Created); err != nil {
		return Result{}, err
	}
	return Result{Engagement: stored}, nil
}

// RefreshProfile applies a periodic counter refresh, the only mutation a
// stored profile accepts.
func (s *Service) RefreshProfile(ctx context.Context, tenantID uuid.UUID, platform, username string, followers, following int) error {
	p := domain.Platform(platform)
	if !domain.KnownPlatforms[p] {
		return apperr.Validation(fmt.Sprintf("unknown platform %q", platform))
	}
	resolver, err := s.resolvers.For(ctx, tenantID)
	if err != nil {
		return err
	}
	return resolver.RefreshCounters(ctx, p, username, followers, following, s.now())
}

// normalize validates the raw event and builds the engagement record.
func (s *Service) normalize(raw RawEvent) (*domain.Engagement, error) {
	platform := domain.Platform(raw.Platform)
	if !domain.KnownPlatforms[platform] {
		return nil, apperr.Validation(fmt.Sprintf("unknown platform %q", raw.Platform))
	}
	engagementType := domain.EngagementType(raw.Type)
	if !domain.KnownEngagementTypes[engagementType] {
		return nil, apperr.Validation(fmt.Sprintf("unknown engagement type %q", raw.Type))
	}
	if raw.Profile.Username == "" {
		return nil, apperr.Validation("missing profile username")
	}

	var sentiment domain.Sentiment
	switch domain.Sentiment(raw.Sentiment) {
	case "":
	case domain.SentimentPositive, domain.SentimentNeutral, domain.SentimentNegative:
		sentiment = domain.Sentiment(raw.Sentiment)
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown sentiment %q", raw.Sentiment))
	}

	if raw.Timestamp.IsZero() {
		return nil, apperr.Validation("missing timestamp")
	}
	if skew := raw.Timestamp.Sub(s.now()); skew > s.cfg.GetMaxFutureSkew() {
		return nil, apperr.Validation(fmt.Sprintf("timestamp %s ahead of server time", skew))
	}

	occurredAt := raw.Timestamp.UTC()
	return &domain.Engagement{
		ID:             uuid.New(),
		Type:           engagementType,
		Platform:       platform,
		ContentID:      raw.ContentID,
		ContentTitle:   sanitize.Text(raw.ContentTitle),
		Message:        sanitize.Text(raw.Message),
		Sentiment:      sentiment,
		OccurredAt:     occurredAt,
		Metadata:       raw.Metadata,
		IdempotencyKey: IdempotencyKey(platform, raw.Profile.Username, raw.ContentID, engagementType, occurredAt),
	}, nil
}

// IdempotencyKey derives the stable dedupe key for one external delivery.
// The timestamp is bucketed to one second so jittered retries of the same
// webhook collapse onto one key.
func IdempotencyKey(platform domain.Platform, username, contentID string, engagementType domain.EngagementType, ts time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", platform, username, contentID, engagementType, ts.Unix())
	return hex.EncodeToString(h.Sum(nil))
}
