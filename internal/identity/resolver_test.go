package identity

import (
	"context"
	"testing"
	"time"

	"leadpulse_backend/internal/leads/domain"

	"github.com/google/uuid"
)

type mergeCall struct {
	canonical uuid.UUID
	merged    uuid.UUID
}

// fakeStore records identity decisions and keeps a per-lead engagement
// counter so merge arithmetic can be checked end to end.
type fakeStore struct {
	leads      map[uuid.UUID]*domain.Lead
	counters   map[uuid.UUID]int64
	mergeCalls []mergeCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:    make(map[uuid.UUID]*domain.Lead),
		counters: make(map[uuid.UUID]int64),
	}
}

func (s *fakeStore) CreateLead(_ context.Context, lead *domain.Lead, _ *domain.SocialProfile) error {
	s.leads[lead.ID] = lead
	return nil
}

func (s *fakeStore) AttachProfile(context.Context, *domain.SocialProfile) error { return nil }

func (s *fakeStore) MergeLeads(_ context.Context, canonicalID, mergedID uuid.UUID) error {
	s.mergeCalls = append(s.mergeCalls, mergeCall{canonical: canonicalID, merged: mergedID})
	s.counters[canonicalID] += s.counters[mergedID]
	s.counters[mergedID] = 0
	return nil
}

func (s *fakeStore) RefreshProfileCounters(context.Context, uuid.UUID, int, int, time.Time) error {
	return nil
}

func newTestResolver(store Store) *Resolver {
	return NewResolver(uuid.New(), store, nil, nil)
}

func profile(platform domain.Platform, username string) domain.SocialProfile {
	return domain.SocialProfile{Platform: platform, Username: username}
}

func verifiedProfile(platform domain.Platform, username, email string) domain.SocialProfile {
	p := profile(platform, username)
	p.IsVerified = true
	p.Email = email
	return p
}

func TestResolveExactProfileMatch(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(store)

	first, err := r.Resolve(ctx, profile(domain.PlatformInstagram, "creatorjane"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !first.Created {
		t.Fatal("expected first resolve to create a lead")
	}

	// Username normalization: case and the @ prefix are ignored.
	again, err := r.Resolve(ctx, profile(domain.PlatformInstagram, "@CreatorJane"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if again.Created {
		t.Fatal("second resolve must not create a lead")
	}
	if again.LeadID != first.LeadID {
		t.Fatalf("expected same lead, got %s and %s", first.LeadID, again.LeadID)
	}
}

func TestResolveSameUsernameDifferentPlatform(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(newFakeStore())

	a, _ := r.Resolve(ctx, profile(domain.PlatformInstagram, "jane"))
	b, err := r.Resolve(ctx, profile(domain.PlatformTikTok, "jane"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !b.Created {
		t.Fatal("same username on another platform without a verified contact must create a new lead")
	}
	if a.LeadID == b.LeadID {
		t.Fatal("leads must stay distinct without contact evidence")
	}
}

func TestResolveVerifiedContactLinksProfiles(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(store)

	a, _ := r.Resolve(ctx, verifiedProfile(domain.PlatformInstagram, "jane_ig", "jane@example.com"))
	b, err := r.Resolve(ctx, verifiedProfile(domain.PlatformYouTube, "janevlogs", "Jane@Example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.Created {
		t.Fatal("verified email match must attach to the existing lead")
	}
	if b.LeadID != a.LeadID {
		t.Fatalf("expected lead %s, got %s", a.LeadID, b.LeadID)
	}
}

func TestResolveUnverifiedContactDoesNotLink(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(newFakeStore())

	r.Resolve(ctx, verifiedProfile(domain.PlatformInstagram, "jane_ig", "jane@example.com"))

	p := profile(domain.PlatformYouTube, "janevlogs")
	p.Email = "jane@example.com" // present but not verified
	b, err := r.Resolve(ctx, p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !b.Created {
		t.Fatal("unverified contact must not link profiles")
	}
}

func TestMergeIdempotence(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(store)

	a, _ := r.Resolve(ctx, verifiedProfile(domain.PlatformInstagram, "jane_ig", "jane@example.com"))
	store.counters[a.LeadID] = 12

	b, _ := r.Resolve(ctx, profile(domain.PlatformTikTok, "jane_tt"))
	store.counters[b.LeadID] = 5

	// Claiming the shared verified email from the TikTok profile triggers
	// the merge.
	merged, err := r.Resolve(ctx, verifiedProfile(domain.PlatformTikTok, "jane_tt", "jane@example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if merged.LeadID != a.LeadID {
		t.Fatalf("older lead must stay canonical: want %s, got %s", a.LeadID, merged.LeadID)
	}
	if got := store.counters[a.LeadID]; got != 17 {
		t.Fatalf("counters after merge = %d, want 17", got)
	}

	// Replaying either side must not re-apply counters.
	for _, p := range []domain.SocialProfile{
		verifiedProfile(domain.PlatformTikTok, "jane_tt", "jane@example.com"),
		verifiedProfile(domain.PlatformInstagram, "jane_ig", "jane@example.com"),
	} {
		h, err := r.Resolve(ctx, p)
		if err != nil {
			t.Fatalf("replay resolve: %v", err)
		}
		if h.LeadID != a.LeadID {
			t.Fatalf("replay resolved to %s, want %s", h.LeadID, a.LeadID)
		}
	}
	if got := store.counters[a.LeadID]; got != 17 {
		t.Fatalf("counters after replay = %d, want 17", got)
	}
	if len(store.mergeCalls) != 1 {
		t.Fatalf("MergeLeads called %d times, want 1", len(store.mergeCalls))
	}
}

func TestMergeKeepsOlderLeadCanonical(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(store)

	older := uuid.New()
	newer := uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r.Seed(older, base)
	r.Seed(newer, base.Add(48*time.Hour))
	r.SeedProfile(domain.SocialProfile{
		ID: uuid.New(), LeadID: older, Platform: domain.PlatformInstagram,
		Username: "first", IsVerified: true, Email: "person@example.com",
	})
	r.SeedProfile(domain.SocialProfile{
		ID: uuid.New(), LeadID: newer, Platform: domain.PlatformTikTok, Username: "second",
	})

	h, err := r.Resolve(ctx, verifiedProfile(domain.PlatformTikTok, "second", "person@example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.LeadID != older {
		t.Fatalf("canonical = %s, want older lead %s", h.LeadID, older)
	}
	if got := r.Canonical(newer); got != older {
		t.Fatalf("alias resolves to %s, want %s", got, older)
	}
}

func TestMergeConflictFlaggedNotResolved(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestResolver(store)

	// Two leads with the same verified email but different verified phones.
	pa := verifiedProfile(domain.PlatformInstagram, "jane_ig", "jane@example.com")
	pa.Phone = "+14155552671"
	a, _ := r.Resolve(ctx, pa)

	pb := verifiedProfile(domain.PlatformTikTok, "jane_tt", "")
	pb.Phone = "+442071838750"
	b, _ := r.Resolve(ctx, pb)

	pc := verifiedProfile(domain.PlatformTikTok, "jane_tt", "jane@example.com")
	pc.Phone = "+442071838750"
	if _, err := r.Resolve(ctx, pc); err == nil {
		t.Fatal("expected conflict error")
	}

	if len(store.mergeCalls) != 0 {
		t.Fatalf("conflicting leads must not merge, got %d merge calls", len(store.mergeCalls))
	}
	if r.Canonical(a.LeadID) == r.Canonical(b.LeadID) {
		t.Fatal("conflicting leads collapsed into one")
	}
}

func TestCanonicalUnknownIDPassesThrough(t *testing.T) {
	r := newTestResolver(newFakeStore())
	id := uuid.New()
	if got := r.Canonical(id); got != id {
		t.Fatalf("Canonical(%s) = %s", id, got)
	}
}
