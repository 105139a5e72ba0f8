package leads

import (
	"context"

	"leadpulse_backend/internal/events"
	apphttp "leadpulse_backend/internal/http"
	"leadpulse_backend/internal/leads/scoring"
	"leadpulse_backend/platform/logger"
	"leadpulse_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
	service *Service
}

// NewModule creates and initializes the leads module. The status changer
// is the pipeline, injected by the composition root.
func NewModule(pool *pgxpool.Pool, statuses StatusChanger, model scoring.Model, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, statuses, model, log)
	handler := NewHandler(service, val)

	return &Module{
		handler: handler,
		repo:    repo,
		service: service,
	}
}

// Repository exposes the lead store for the pipeline and outreach wiring.
func (m *Module) Repository() *Repository {
	return m.repo
}

// RegisterHandlers subscribes the module to the domain events it reacts to.
// Merge conflicts tag both leads so the roster and stats surface them until
// someone resolves the contact data by hand.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.MergeConflictFlagged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		conflict, ok := event.(events.MergeConflictFlagged)
		if !ok {
			return nil
		}
		if err := m.repo.AddTag(ctx, conflict.LeadA, TagMergeConflict); err != nil {
			return err
		}
		return m.repo.AddTag(ctx, conflict.LeadB, TagMergeConflict)
	}))
}

// Service exposes the leads service for the scheduler's inactivity sweep.
func (m *Module) Service() *Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// RegisterRoutes mounts lead roster routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/leads")
	group.GET("", m.handler.HandleList)
	group.GET("/stats", m.handler.HandleStats)
	group.GET("/engagements/recent", m.handler.HandleRecentEngagements)
	group.GET("/:leadId", m.handler.HandleGet)
	group.GET("/:leadId/engagements", m.handler.HandleEngagements)
	group.GET("/:leadId/profiles", m.handler.HandleProfiles)
	group.GET("/:leadId/notes", m.handler.HandleNotes)
	group.POST("/:leadId/notes", m.handler.HandleAddNote)
	group.POST("/:leadId/tags", m.handler.HandleAddTag)
	group.DELETE("/:leadId/tags/:tag", m.handler.HandleRemoveTag)
	group.POST("/:leadId/convert", m.handler.HandleConvert)
	group.POST("/:leadId/churn", m.handler.HandleChurn)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
