// Package ingest provides the engagement ingestion bounded context: webhook
// intake of raw social events, normalization, idempotent persistence, and
// hand-off to the processing pipeline.
package ingest

import (
	apphttp "leadpulse_backend/internal/http"
	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/logger"
	"leadpulse_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the ingest bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
	service *Service
}

// NewModule creates and initializes the ingest module with all its dependencies.
// The archiver may be nil when raw-payload archiving is not configured.
func NewModule(pool *pgxpool.Pool, resolvers ResolverProvider, forwarder Forwarder, archiver Archiver, cfg config.IngestConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, resolvers, forwarder, archiver, cfg, log)
	handler := NewHandler(service, repo, val)

	return &Module{
		handler: handler,
		repo:    repo,
		service: service,
	}
}

// Service exposes the ingest service for non-HTTP callers (scheduler sweeps).
func (m *Module) Service() *Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "ingest"
}

// RegisterRoutes mounts ingest routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public webhook endpoints (API key auth, no JWT)
	webhooks := ctx.V1.Group("/webhooks")
	webhooks.Use(APIKeyAuthMiddleware(m.repo))
	webhooks.POST("/engagements", m.handler.HandleEngagement)
	webhooks.POST("/profile-refresh", m.handler.HandleProfileRefresh)

	// Admin API key management (JWT auth + admin role)
	keys := ctx.Admin.Group("/ingest/keys")
	keys.POST("", m.handler.HandleCreateAPIKey)
	keys.GET("", m.handler.HandleListAPIKeys)
	keys.DELETE("/:keyId", m.handler.HandleRevokeAPIKey)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
