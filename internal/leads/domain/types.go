// Package domain provides core business rules and entity types for the
// lead intelligence engine. It has no dependencies on transport, storage,
// or scheduling concerns.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the social network an engagement or profile came from.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYouTube   Platform = "youtube"
)

// KnownPlatforms lists every platform the ingestor accepts.
var KnownPlatforms = map[Platform]bool{
	PlatformInstagram: true,
	PlatformTikTok:    true,
	PlatformTwitter:   true,
	PlatformFacebook:  true,
	PlatformLinkedIn:  true,
	PlatformYouTube:   true,
}

// EngagementType identifies the kind of interaction.
type EngagementType string

const (
	EngagementView    EngagementType = "view"
	EngagementLike    EngagementType = "like"
	EngagementComment EngagementType = "comment"
	EngagementShare   EngagementType = "share"
	EngagementSave    EngagementType = "save"
	EngagementFollow  EngagementType = "follow"
	EngagementDM      EngagementType = "dm"
	EngagementMention EngagementType = "mention"
)

// KnownEngagementTypes lists every engagement type the ingestor accepts.
var KnownEngagementTypes = map[EngagementType]bool{
	EngagementView:    true,
	EngagementLike:    true,
	EngagementComment: true,
	EngagementShare:   true,
	EngagementSave:    true,
	EngagementFollow:  true,
	EngagementDM:      true,
	EngagementMention: true,
}

// Sentiment classifies the tone of a comment or message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// SocialProfile is a platform-scoped identity owned by exactly one lead.
// Everything except the periodically refreshed counters is immutable.
type SocialProfile struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	Platform       Platform
	Username       string
	DisplayName    string
	FollowerCount  int
	FollowingCount int
	IsVerified     bool
	IsBusiness     bool
	Email          string
	Phone          string
	Website        string
	CreatedAt      time.Time
	RefreshedAt    time.Time
}

// Engagement is an immutable interaction event. It is append-only and the
// sole write path that feeds scoring.
type Engagement struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	Type           EngagementType
	Platform       Platform
	ContentID      string
	ContentTitle   string
	Message        string
	Sentiment      Sentiment
	OccurredAt     time.Time
	Metadata       map[string]string
	IdempotencyKey string
}

// Lead is the canonical identity aggregating one or more social profiles
// and their engagement history. Leads are never physically deleted; they
// are soft-archived by transitioning to StatusChurned.
type Lead struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	PrimaryPlatform  Platform
	Email            string
	Phone            string
	Status           LeadStatus
	Score            float64
	CountersByType   map[EngagementType]int64
	CountersByOrigin map[Platform]int64
	FirstEngagedAt   *time.Time
	LastEngagedAt    *time.Time
	DMSent           bool
	OutreachCount    int
	LastOutreachAt   *time.Time
	Interests        []string
	Tags             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Touch advances UpdatedAt, keeping it monotonic even when the wall clock
// reads earlier than a previous update.
func (l *Lead) Touch(now time.Time) {
	if now.After(l.UpdatedAt) {
		l.UpdatedAt = now
	} else {
		l.UpdatedAt = l.UpdatedAt.Add(time.Nanosecond)
	}
}

// AddCounters accumulates engagement counters from another lead. Used by
// merges; the result must equal the exact sum of both sides.
func (l *Lead) AddCounters(other *Lead) {
	if l.CountersByType == nil {
		l.CountersByType = make(map[EngagementType]int64)
	}
	if l.CountersByOrigin == nil {
		l.CountersByOrigin = make(map[Platform]int64)
	}
	for k, v := range other.CountersByType {
		l.CountersByType[k] += v
	}
	for k, v := range other.CountersByOrigin {
		l.CountersByOrigin[k] += v
	}
}

// Note is one entry in a lead's ordered note log.
type Note struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	Author    string
	Body      string
	CreatedAt time.Time
}
