package identity

import (
	"context"
	"sync"

	"leadpulse_backend/internal/events"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
)

// Registry hands out one resolver per tenant, loading persisted identity
// state the first time a tenant is seen.
type Registry struct {
	mu        sync.Mutex
	resolvers map[uuid.UUID]*Resolver
	repo      *Repository
	bus       events.Bus
	log       *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(repo *Repository, bus events.Bus, log *logger.Logger) *Registry {
	return &Registry{
		resolvers: make(map[uuid.UUID]*Resolver),
		repo:      repo,
		bus:       bus,
		log:       log,
	}
}

// For returns the tenant's resolver, creating and seeding it on first use.
func (g *Registry) For(ctx context.Context, tenantID uuid.UUID) (*Resolver, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.resolvers[tenantID]; ok {
		return r, nil
	}
	r := NewResolver(tenantID, g.repo, g.bus, g.log)
	if err := LoadResolver(ctx, g.repo, r, tenantID); err != nil {
		return nil, err
	}
	g.resolvers[tenantID] = r
	return r, nil
}
