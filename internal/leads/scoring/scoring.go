// Package scoring maintains each lead's engagement score using weighted,
// time-decayed signals. Scores are always recomputed from the decay formula
// so the same engagement history with the same timestamps always yields the
// same score, regardless of when it is replayed.
package scoring

import (
	"math"
	"time"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/config"
)

const (
	// modelVersion tracks the scoring model for debugging and analysis.
	// Bump this when changing scoring logic significantly.
	modelVersion = "2026-v1"

	minScore = 0.0
	maxScore = 100.0
)

// defaultWeights are the base contribution of each engagement type.
var defaultWeights = map[domain.EngagementType]float64{
	domain.EngagementView:    1,
	domain.EngagementLike:    3,
	domain.EngagementComment: 8,
	domain.EngagementShare:   10,
	domain.EngagementSave:    6,
	domain.EngagementFollow:  12,
	domain.EngagementDM:      15,
	domain.EngagementMention: 10,
}

// Model holds the scoring parameters. The zero value is not usable; build
// one with NewModel or Default.
type Model struct {
	HalfLifeDays    float64
	NegativePenalty float64
	Weights         map[domain.EngagementType]float64
}

// Default returns the product-default model (14-day half-life, 0.5 negative
// sentiment penalty).
func Default() Model {
	return Model{
		HalfLifeDays:    14,
		NegativePenalty: 0.5,
		Weights:         defaultWeights,
	}
}

// NewModel builds a model from configuration, falling back to defaults for
// unset values.
func NewModel(cfg config.ScoringConfig) Model {
	m := Default()
	if cfg.GetScoreHalfLifeDays() > 0 {
		m.HalfLifeDays = cfg.GetScoreHalfLifeDays()
	}
	if cfg.GetNegativeSentimentPenalty() > 0 {
		m.NegativePenalty = cfg.GetNegativeSentimentPenalty()
	}
	return m
}

// Version returns the scoring model version string.
func (m Model) Version() string { return modelVersion }

// Weight returns the contribution of a single engagement. Negative-sentiment
// engagements contribute the base weight scaled by the penalty multiplier
// instead of the full positive weight.
func (m Model) Weight(e domain.Engagement) float64 {
	base, ok := m.Weights[e.Type]
	if !ok {
		base = defaultWeights[e.Type]
	}
	if e.Sentiment == domain.SentimentNegative {
		return base * m.NegativePenalty
	}
	return base
}

// Decay returns the score after elapsed time with no new engagements:
// score * 0.5^(days/halfLife). Negative elapsed durations (events that
// arrive out of clock order within the allowed skew) decay nothing.
func (m Model) Decay(score float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return score
	}
	days := elapsed.Hours() / 24
	return score * math.Pow(0.5, days/m.HalfLifeDays)
}

// Apply folds one engagement into the score: the accumulated score decays
// over the gap since the previous engagement, then the new weight is added
// and the result clamped to [0,100].
func (m Model) Apply(score float64, lastEngagedAt *time.Time, e domain.Engagement) float64 {
	decayed := score
	if lastEngagedAt != nil {
		decayed = m.Decay(score, e.OccurredAt.Sub(*lastEngagedAt))
	}
	return clamp(decayed + m.Weight(e))
}

// AtRead returns the effective score at the given instant without mutating
// anything. Decay is recomputed lazily on read, so a lead with no recent
// activity trends toward zero even when no new event arrives.
func (m Model) AtRead(score float64, lastEngagedAt *time.Time, now time.Time) float64 {
	if lastEngagedAt == nil {
		return clamp(score)
	}
	return clamp(m.Decay(score, now.Sub(*lastEngagedAt)))
}

// Replay recomputes a score from a full engagement history ordered by
// OccurredAt. The result depends only on the events and their timestamps,
// which is what makes merges and webhook replays reproducible.
func (m Model) Replay(history []domain.Engagement) float64 {
	var score float64
	var last *time.Time
	for i := range history {
		score = m.Apply(score, last, history[i])
		last = &history[i].OccurredAt
	}
	return clamp(score)
}

func clamp(score float64) float64 {
	return math.Max(minScore, math.Min(maxScore, score))
}
