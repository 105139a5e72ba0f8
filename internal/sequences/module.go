package sequences

import (
	apphttp "leadpulse_backend/internal/http"
	"leadpulse_backend/platform/validator"
)

// Module is the sequences bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule wires the sequences module around an already-built sequencer.
func NewModule(sequencer *Sequencer, repo *Repository, catalog Catalog, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(sequencer, repo, catalog, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "sequences"
}

// RegisterRoutes mounts sequence routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/sequences")
	group.POST("/:sequenceId/enroll", m.handler.HandleEnroll)
	group.POST("/:sequenceId/cancel", m.handler.HandleCancel)
	group.GET("/:sequenceId/stats", m.handler.HandleStats)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
