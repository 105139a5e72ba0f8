// Package identity maps social profiles to canonical leads and merges
// leads that turn out to be the same person across platforms.
//
// Leads are nodes in an append-only union-find arena: merges only update
// parent pointers, so every historical lead id stays resolvable as an
// alias of its canonical lead.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"leadpulse_backend/internal/events"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/apperr"
	"leadpulse_backend/platform/logger"
	"leadpulse_backend/platform/phone"

	"github.com/google/uuid"
)

// Store persists identity decisions. Satisfied by identity.Repository.
type Store interface {
	// CreateLead persists a brand-new lead with its first profile.
	CreateLead(ctx context.Context, lead *domain.Lead, profile *domain.SocialProfile) error
	// AttachProfile persists an additional profile on an existing lead.
	AttachProfile(ctx context.Context, profile *domain.SocialProfile) error
	// MergeLeads reassigns the merged lead's engagements and profiles to
	// the canonical lead, sums its counters onto the canonical lead, and
	// records the alias. Called at most once per (canonical, merged) pair.
	MergeLeads(ctx context.Context, canonicalID, mergedID uuid.UUID) error
	// RefreshProfileCounters updates the periodically refreshed counters.
	RefreshProfileCounters(ctx context.Context, profileID uuid.UUID, followers, following int, refreshedAt time.Time) error
}

// Handle is the result of resolving a profile.
type Handle struct {
	LeadID  uuid.UUID
	Created bool
}

type profileKey struct {
	platform domain.Platform
	username string
}

type node struct {
	id        uuid.UUID
	parent    uuid.UUID // equals id when the node is a root
	createdAt time.Time
}

// Resolver is the identity resolution engine for one tenant.
type Resolver struct {
	mu        sync.Mutex
	tenantID  uuid.UUID
	nodes     map[uuid.UUID]*node
	byProfile map[profileKey]uuid.UUID
	byContact map[string]uuid.UUID
	contacts  map[uuid.UUID]map[string]string // canonical lead → channel → value
	profiles  map[profileKey]uuid.UUID        // profile key → profile id
	store     Store
	bus       events.Bus
	log       *logger.Logger
}

// NewResolver creates an empty resolver for a tenant.
func NewResolver(tenantID uuid.UUID, store Store, bus events.Bus, log *logger.Logger) *Resolver {
	return &Resolver{
		tenantID:  tenantID,
		nodes:     make(map[uuid.UUID]*node),
		byProfile: make(map[profileKey]uuid.UUID),
		byContact: make(map[string]uuid.UUID),
		contacts:  make(map[uuid.UUID]map[string]string),
		profiles:  make(map[profileKey]uuid.UUID),
		store:     store,
		bus:       bus,
		log:       log,
	}
}

// Seed registers an existing lead node, used when loading persisted state
// at startup. Aliases are re-created by calling Seed for both ids and then
// SeedAlias.
func (r *Resolver) Seed(leadID uuid.UUID, createdAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureNode(leadID, createdAt)
}

// SeedAlias re-links a persisted alias to its canonical lead.
func (r *Resolver) SeedAlias(aliasID, canonicalID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[aliasID]; ok {
		n.parent = canonicalID
	}
}

// SeedProfile re-registers a persisted profile's lookup keys.
func (r *Resolver) SeedProfile(p domain.SocialProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := profileKey{platform: p.Platform, username: normalizeUsername(p.Username)}
	r.byProfile[key] = p.LeadID
	r.profiles[key] = p.ID
	if p.IsVerified {
		r.indexContacts(p.LeadID, p.Email, p.Phone)
	}
}

// Resolve maps a social profile to its canonical lead, creating a new lead
// when nothing matches. Resolution order: exact (platform, username) match,
// then verified email/phone shared with an existing lead, then creation.
func (r *Resolver) Resolve(ctx context.Context, p domain.SocialProfile) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username := normalizeUsername(p.Username)
	email := normalizeEmail(p.Email)
	phoneNumber := ""
	if p.Phone != "" {
		phoneNumber = phone.NormalizeE164(p.Phone)
	}

	key := profileKey{platform: p.Platform, username: username}

	// 1. Exact platform/username match.
	if leadID, ok := r.byProfile[key]; ok {
		canonical := r.find(leadID)
		if p.IsVerified {
			if err := r.linkContacts(ctx, canonical, email, phoneNumber); err != nil {
				return Handle{}, err
			}
			canonical = r.find(canonical)
		}
		return Handle{LeadID: canonical}, nil
	}

	// 2. Verified contact match across platforms.
	if p.IsVerified {
		if leadID, ok := r.lookupContact(email, phoneNumber); ok {
			canonical := r.find(leadID)
			p.ID = uuid.New()
			p.LeadID = canonical
			if err := r.store.AttachProfile(ctx, &p); err != nil {
				return Handle{}, err
			}
			r.byProfile[key] = canonical
			r.profiles[key] = p.ID
			if err := r.linkContacts(ctx, canonical, email, phoneNumber); err != nil {
				return Handle{}, err
			}
			return Handle{LeadID: r.find(canonical)}, nil
		}
	}

	// 3. New lead with this profile as sole member.
	now := time.Now().UTC()
	lead := &domain.Lead{
		ID:               uuid.New(),
		TenantID:         r.tenantID,
		PrimaryPlatform:  p.Platform,
		Email:            email,
		Phone:            phoneNumber,
		Status:           domain.StatusCold,
		CountersByType:   make(map[domain.EngagementType]int64),
		CountersByOrigin: make(map[domain.Platform]int64),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p.ID = uuid.New()
	p.LeadID = lead.ID
	if err := r.store.CreateLead(ctx, lead, &p); err != nil {
		return Handle{}, err
	}

	r.ensureNode(lead.ID, now)
	r.byProfile[key] = lead.ID
	r.profiles[key] = p.ID
	if p.IsVerified {
		r.indexContacts(lead.ID, email, phoneNumber)
	}

	return Handle{LeadID: lead.ID, Created: true}, nil
}

// Canonical resolves any historical lead id to its current canonical id.
func (r *Resolver) Canonical(leadID uuid.UUID) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[leadID]; !ok {
		return leadID
	}
	return r.find(leadID)
}

// RefreshCounters updates a profile's follower/following counters, the only
// mutation a stored profile accepts.
func (r *Resolver) RefreshCounters(ctx context.Context, platform domain.Platform, username string, followers, following int, now time.Time) error {
	r.mu.Lock()
	key := profileKey{platform: platform, username: normalizeUsername(username)}
	profileID, ok := r.profiles[key]
	r.mu.Unlock()
	if !ok {
		return apperr.NotFound("profile not found")
	}
	return r.store.RefreshProfileCounters(ctx, profileID, followers, following, now)
}

// linkContacts indexes the verified contact channels of a lead, merging
// with any lead already holding the same channel. A channel already owned
// by another lead with a different conflicting value is flagged, never
// merged silently.
func (r *Resolver) linkContacts(ctx context.Context, leadID uuid.UUID, email, phoneNumber string) error {
	for _, ch := range []struct{ channel, value string }{
		{"email", email},
		{"phone", phoneNumber},
	} {
		if ch.value == "" {
			continue
		}
		contactKey := ch.channel + ":" + ch.value

		owner, ok := r.byContact[contactKey]
		if !ok {
			r.byContact[contactKey] = r.find(leadID)
			r.recordContact(r.find(leadID), ch.channel, ch.value)
			continue
		}

		canonicalOwner := r.find(owner)
		canonicalLead := r.find(leadID)
		if canonicalOwner == canonicalLead {
			continue
		}

		if conflict := r.contactConflict(canonicalOwner, canonicalLead, ch.channel); conflict != "" {
			r.flagConflict(ctx, canonicalOwner, canonicalLead, ch.channel, conflict)
			return apperr.Conflict("leads claim the same verified contact with diverging history")
		}

		if err := r.merge(ctx, canonicalOwner, canonicalLead, ch.channel); err != nil {
			return err
		}
	}
	return nil
}

// merge unions two canonical leads. The older lead (by createdAt, ties
// broken by id bytes for determinism) stays canonical; the newer id becomes
// an alias. Merging an already-merged pair is a no-op, which is what makes
// the operation idempotent and commutative: counters are summed through the
// store exactly once per pair.
func (r *Resolver) merge(ctx context.Context, a, b uuid.UUID, channel string) error {
	rootA := r.find(a)
	rootB := r.find(b)
	if rootA == rootB {
		return nil
	}

	canonical, merged := rootA, rootB
	na, nb := r.nodes[rootA], r.nodes[rootB]
	if nb.createdAt.Before(na.createdAt) ||
		(nb.createdAt.Equal(na.createdAt) && lessID(nb.id, na.id)) {
		canonical, merged = rootB, rootA
	}

	if err := r.store.MergeLeads(ctx, canonical, merged); err != nil {
		return err
	}

	r.nodes[merged].parent = canonical
	for channelName, value := range r.contacts[merged] {
		r.recordContact(canonical, channelName, value)
		r.byContact[channelName+":"+value] = canonical
	}
	delete(r.contacts, merged)

	if r.bus != nil {
		r.bus.Publish(ctx, events.LeadsMerged{
			BaseEvent:   events.NewBaseEvent(),
			CanonicalID: canonical,
			MergedID:    merged,
			TenantID:    r.tenantID,
			Channel:     channel,
		})
	}
	return nil
}

// contactConflict reports a diverging value on the *other* verified channel
// of the two leads being linked: same email but two different verified
// phones (or vice versa) means the histories disagree.
func (r *Resolver) contactConflict(a, b uuid.UUID, linkingChannel string) string {
	other := "phone"
	if linkingChannel == "phone" {
		other = "email"
	}
	valA := r.contacts[a][other]
	valB := r.contacts[b][other]
	if valA != "" && valB != "" && valA != valB {
		return "diverging verified " + other
	}
	return ""
}

func (r *Resolver) flagConflict(ctx context.Context, a, b uuid.UUID, channel, detail string) {
	if r.log != nil {
		r.log.Warn("merge conflict flagged", "leadA", a, "leadB", b, "channel", channel, "detail", detail)
	}
	if r.bus != nil {
		r.bus.Publish(ctx, events.MergeConflictFlagged{
			BaseEvent: events.NewBaseEvent(),
			LeadA:     a,
			LeadB:     b,
			TenantID:  r.tenantID,
			Channel:   channel,
			Detail:    detail,
		})
	}
}

func (r *Resolver) lookupContact(email, phoneNumber string) (uuid.UUID, bool) {
	if email != "" {
		if id, ok := r.byContact["email:"+email]; ok {
			return id, true
		}
	}
	if phoneNumber != "" {
		if id, ok := r.byContact["phone:"+phoneNumber]; ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (r *Resolver) indexContacts(leadID uuid.UUID, email, phoneNumber string) {
	if email != "" {
		r.byContact["email:"+normalizeEmail(email)] = leadID
		r.recordContact(leadID, "email", normalizeEmail(email))
	}
	if phoneNumber != "" {
		normalized := phone.NormalizeE164(phoneNumber)
		r.byContact["phone:"+normalized] = leadID
		r.recordContact(leadID, "phone", normalized)
	}
}

func (r *Resolver) recordContact(leadID uuid.UUID, channel, value string) {
	if r.contacts[leadID] == nil {
		r.contacts[leadID] = make(map[string]string)
	}
	if _, exists := r.contacts[leadID][channel]; !exists {
		r.contacts[leadID][channel] = value
	}
}

func (r *Resolver) ensureNode(id uuid.UUID, createdAt time.Time) *node {
	if n, ok := r.nodes[id]; ok {
		return n
	}
	n := &node{id: id, parent: id, createdAt: createdAt}
	r.nodes[id] = n
	return n
}

// find follows parent pointers to the canonical root, compressing the path.
// Nodes are never removed, so stale ids keep resolving.
func (r *Resolver) find(id uuid.UUID) uuid.UUID {
	n, ok := r.nodes[id]
	if !ok {
		return id
	}
	if n.parent == n.id {
		return n.id
	}
	root := r.find(n.parent)
	n.parent = root
	return root
}

func lessID(a, b uuid.UUID) bool {
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(username, "@")))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
