package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpulse_backend/internal/identity"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/apperr"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeEngagementStore dedupes on the idempotency key like the real
// repository does.
type fakeEngagementStore struct {
	byKey map[string]*domain.Engagement
}

func newFakeEngagementStore() *fakeEngagementStore {
	return &fakeEngagementStore{byKey: make(map[string]*domain.Engagement)}
}

func (s *fakeEngagementStore) Insert(_ context.Context, e *domain.Engagement) (*domain.Engagement, bool, error) {
	if existing, ok := s.byKey[e.IdempotencyKey]; ok {
		return existing, false, nil
	}
	s.byKey[e.IdempotencyKey] = e
	return e, true, nil
}

type noopIdentityStore struct{}

func (noopIdentityStore) CreateLead(context.Context, *domain.Lead, *domain.SocialProfile) error {
	return nil
}
func (noopIdentityStore) AttachProfile(context.Context, *domain.SocialProfile) error { return nil }
func (noopIdentityStore) MergeLeads(context.Context, uuid.UUID, uuid.UUID) error     { return nil }
func (noopIdentityStore) RefreshProfileCounters(context.Context, uuid.UUID, int, int, time.Time) error {
	return nil
}

type staticResolvers struct {
	resolver *identity.Resolver
}

func (p staticResolvers) For(context.Context, uuid.UUID) (*identity.Resolver, error) {
	return p.resolver, nil
}

type forwardCall struct {
	engagement  *domain.Engagement
	leadCreated bool
}

type fakeForwarder struct {
	calls []forwardCall
}

func (f *fakeForwarder) Forward(_ context.Context, _ uuid.UUID, e *domain.Engagement, created bool) error {
	f.calls = append(f.calls, forwardCall{engagement: e, leadCreated: created})
	return nil
}

type fakeIngestConfig struct{}

func (fakeIngestConfig) GetMaxFutureSkew() time.Duration { return 5 * time.Minute }

func newTestService(store EngagementStore, forwarder Forwarder) *Service {
	resolver := identity.NewResolver(uuid.New(), noopIdentityStore{}, nil, nil)
	svc := NewService(store, staticResolvers{resolver: resolver}, forwarder, nil, fakeIngestConfig{}, logger.New("test"))
	svc.now = func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func validEvent() RawEvent {
	return RawEvent{
		Platform:  string(domain.PlatformInstagram),
		Type:      string(domain.EngagementComment),
		Profile:   RawProfile{Username: "jordan_writes"},
		ContentID: "post-99",
		Message:   "love this",
		Sentiment: string(domain.SentimentPositive),
		Timestamp: time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC),
	}
}

func TestIngestAcceptsAndForwards(t *testing.T) {
	store := newFakeEngagementStore()
	forwarder := &fakeForwarder{}
	svc := newTestService(store, forwarder)

	result, err := svc.Ingest(context.Background(), uuid.New(), validEvent(), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first delivery flagged as duplicate")
	}
	if result.Engagement.LeadID == uuid.Nil {
		t.Fatal("engagement not attached to a lead")
	}
	if len(forwarder.calls) != 1 {
		t.Fatalf("forward calls = %d, want 1", len(forwarder.calls))
	}
	if !forwarder.calls[0].leadCreated {
		t.Fatal("first engagement for a new profile should create the lead")
	}
}

func TestIngestDuplicateDeliveryIsIdempotent(t *testing.T) {
	store := newFakeEngagementStore()
	forwarder := &fakeForwarder{}
	svc := newTestService(store, forwarder)
	tenantID := uuid.New()

	first, err := svc.Ingest(context.Background(), tenantID, validEvent(), []byte("{}"))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	replay, err := svc.Ingest(context.Background(), tenantID, validEvent(), []byte("{}"))
	if err != nil {
		t.Fatalf("replayed Ingest: %v", err)
	}
	if !replay.Duplicate {
		t.Fatal("replay not flagged as duplicate")
	}
	if replay.Engagement.ID != first.Engagement.ID {
		t.Fatal("replay returned a different engagement")
	}
	if len(forwarder.calls) != 1 {
		t.Fatalf("forward calls = %d, want 1 (replay must not reach the pipeline)", len(forwarder.calls))
	}
}

func TestIngestRejectsMalformedEvents(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RawEvent)
	}{
		{"unknown platform", func(e *RawEvent) { e.Platform = "friendster" }},
		{"unknown type", func(e *RawEvent) { e.Type = "poke" }},
		{"unknown sentiment", func(e *RawEvent) { e.Sentiment = "ecstatic" }},
		{"missing username", func(e *RawEvent) { e.Profile.Username = "" }},
		{"missing timestamp", func(e *RawEvent) { e.Timestamp = time.Time{} }},
		{"far-future timestamp", func(e *RawEvent) { e.Timestamp = e.Timestamp.Add(48 * time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeEngagementStore()
			svc := newTestService(store, &fakeForwarder{})
			event := validEvent()
			tc.mutate(&event)

			_, err := svc.Ingest(context.Background(), uuid.New(), event, []byte("{}"))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var appErr *apperr.Error
			if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
				t.Fatalf("error = %v, want validation kind", err)
			}
			if len(store.byKey) != 0 {
				t.Fatal("rejected event was persisted")
			}
		})
	}
}

func TestIdempotencyKeyBucketsToOneSecond(t *testing.T) {
	base := time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC)
	a := IdempotencyKey(domain.PlatformInstagram, "jordan_writes", "post-99", domain.EngagementComment, base)
	jittered := IdempotencyKey(domain.PlatformInstagram, "jordan_writes", "post-99", domain.EngagementComment, base.Add(300*time.Millisecond))
	if a != jittered {
		t.Fatal("sub-second jitter produced a different key")
	}
	later := IdempotencyKey(domain.PlatformInstagram, "jordan_writes", "post-99", domain.EngagementComment, base.Add(time.Second))
	if a == later {
		t.Fatal("distinct seconds collapsed onto one key")
	}
}

func TestIngestStripsMarkupFromMessage(t *testing.T) {
	store := newFakeEngagementStore()
	svc := newTestService(store, &fakeForwarder{})
	event := validEvent()
	event.Message = "<script>alert(1)</script>great post"

	result, err := svc.Ingest(context.Background(), uuid.New(), event, []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := result.Engagement.Message; got == event.Message {
		t.Fatalf("message stored unsanitized: %q", got)
	}
}
