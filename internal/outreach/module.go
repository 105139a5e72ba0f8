package outreach

import (
	"leadpulse_backend/internal/governor"
	apphttp "leadpulse_backend/internal/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the outreach bounded context module implementing http.Module.
// Its HTTP surface is the admin review side: the approval queue and dead
// letters. Sending happens through the Service, driven by rules and
// sequences rather than requests.
type Module struct {
	handler *Handler
	service *Service
	repo    *Repository
}

// NewModule wires the outreach module around an already-built service.
func NewModule(pool *pgxpool.Pool, service *Service, queue *governor.Repository) *Module {
	repo := NewRepository(pool)
	handler := NewHandler(service, queue, repo)
	return &Module{handler: handler, service: service, repo: repo}
}

// Repository exposes the dead letter store for dispatcher wiring.
func (m *Module) Repository() *Repository {
	return m.repo
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "outreach"
}

// RegisterRoutes mounts the outreach review routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/outreach")
	group.GET("/pending", m.handler.HandlePending)
	group.POST("/pending/:actionId/approve", m.handler.HandleApprove)
	group.POST("/pending/:actionId/reject", m.handler.HandleReject)
	group.GET("/dead-letters", m.handler.HandleDeadLetters)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
