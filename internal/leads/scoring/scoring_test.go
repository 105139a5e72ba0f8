package scoring

import (
	"math"
	"testing"
	"time"

	"leadpulse_backend/internal/leads/domain"
)

func engagementAt(t domain.EngagementType, at time.Time) domain.Engagement {
	return domain.Engagement{Type: t, OccurredAt: at}
}

func TestApply_ColdLeadScenario(t *testing.T) {
	m := Default()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Comment on day 0: score jumps from 0 to the comment weight.
	score := m.Apply(0, nil, engagementAt(domain.EngagementComment, start))
	if score != 8 {
		t.Fatalf("after comment: expected score 8, got %v", score)
	}

	// DM one day later: prior 8 decays over 1 day, then +15.
	dmAt := start.Add(24 * time.Hour)
	score = m.Apply(score, &start, engagementAt(domain.EngagementDM, dmAt))
	want := 8*math.Pow(0.5, 1.0/14) + 15
	if math.Abs(score-want) > 1e-9 {
		t.Fatalf("after dm: expected score %v, got %v", want, score)
	}
	if score >= 30 {
		t.Fatalf("after dm: score %v should still be below the warm threshold", score)
	}

	// Share ten days later: decayed accumulation plus the share weight,
	// still below the warm threshold.
	shareAt := dmAt.Add(10 * 24 * time.Hour)
	score = m.Apply(score, &dmAt, engagementAt(domain.EngagementShare, shareAt))
	want = want*math.Pow(0.5, 10.0/14) + 10
	if math.Abs(score-want) > 1e-9 {
		t.Fatalf("after share: expected score %v, got %v", want, score)
	}
	if score >= 30 {
		t.Fatalf("after share: score %v should still be below the warm threshold", score)
	}
}

func TestWeight_NegativeSentimentPenalty(t *testing.T) {
	m := Default()

	e := domain.Engagement{Type: domain.EngagementComment, Sentiment: domain.SentimentNegative}
	if got := m.Weight(e); got != 4 {
		t.Fatalf("negative comment weight: expected 4, got %v", got)
	}

	e.Sentiment = domain.SentimentPositive
	if got := m.Weight(e); got != 8 {
		t.Fatalf("positive comment weight: expected 8, got %v", got)
	}
}

func TestReplay_DeterministicRegardlessOfWallClock(t *testing.T) {
	m := Default()
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	history := []domain.Engagement{
		engagementAt(domain.EngagementFollow, start),
		engagementAt(domain.EngagementLike, start.Add(3*time.Hour)),
		engagementAt(domain.EngagementComment, start.Add(48*time.Hour)),
		engagementAt(domain.EngagementShare, start.Add(30*24*time.Hour)),
	}

	first := m.Replay(history)

	// Replaying the same history later (or many times) must give the exact
	// same score: only event timestamps feed the computation.
	for i := 0; i < 5; i++ {
		if got := m.Replay(history); got != first {
			t.Fatalf("replay %d: expected %v, got %v", i, first, got)
		}
	}

	// Replay must agree with incremental Apply.
	var incremental float64
	var last *time.Time
	for i := range history {
		incremental = m.Apply(incremental, last, history[i])
		last = &history[i].OccurredAt
	}
	if incremental != first {
		t.Fatalf("incremental %v != replay %v", incremental, first)
	}
}

func TestAtRead_LazyDecayTrendsTowardZero(t *testing.T) {
	m := Default()
	lastAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	score := 80.0
	prev := score
	for _, days := range []int{7, 14, 28, 56, 112} {
		now := lastAt.Add(time.Duration(days) * 24 * time.Hour)
		got := m.AtRead(score, &lastAt, now)
		if got >= prev {
			t.Fatalf("after %d days: score %v did not decay below %v", days, got, prev)
		}
		prev = got
	}

	// One half-life exactly halves the score.
	halfLife := lastAt.Add(14 * 24 * time.Hour)
	if got := m.AtRead(score, &lastAt, halfLife); math.Abs(got-40) > 1e-9 {
		t.Fatalf("after one half-life: expected 40, got %v", got)
	}
}

func TestApply_ScoreStaysBounded(t *testing.T) {
	m := Default()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	score := 0.0
	var last *time.Time
	for i := 0; i < 50; i++ {
		e := engagementAt(domain.EngagementDM, at)
		score = m.Apply(score, last, e)
		copied := at
		last = &copied
		at = at.Add(time.Minute)
	}
	if score > 100 {
		t.Fatalf("score exceeded upper bound: %v", score)
	}
	if score < 0 {
		t.Fatalf("score fell below lower bound: %v", score)
	}
}
