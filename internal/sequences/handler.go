package sequences

import (
	"net/http"
	"time"

	"leadpulse_backend/platform/httpkit"
	"leadpulse_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves sequence management endpoints.
type Handler struct {
	sequencer *Sequencer
	repo      *Repository
	catalog   Catalog
	val       *validator.Validator
}

// NewHandler creates a new sequences handler.
func NewHandler(sequencer *Sequencer, repo *Repository, catalog Catalog, val *validator.Validator) *Handler {
	return &Handler{sequencer: sequencer, repo: repo, catalog: catalog, val: val}
}

// EnrollRequest enrolls one lead into a sequence.
type EnrollRequest struct {
	LeadID uuid.UUID `json:"leadId" validate:"required"`
}

// HandleEnroll starts a run. POST /api/v1/sequences/:sequenceId/enroll
func (h *Handler) HandleEnroll(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.LeadID == uuid.Nil {
		httpkit.Error(c, http.StatusBadRequest, "missing leadId", nil)
		return
	}

	run, err := h.sequencer.Enroll(c.Request.Context(), req.LeadID, tenantID, c.Param("sequenceId"), time.Now().UTC())
	if httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusCreated, run)
}

// CancelRequest cancels one lead's active run.
type CancelRequest struct {
	LeadID uuid.UUID `json:"leadId" validate:"required"`
}

// HandleCancel ends a run. POST /api/v1/sequences/:sequenceId/cancel
func (h *Handler) HandleCancel(c *gin.Context) {
	if _, ok := tenantFromContext(c); !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.LeadID == uuid.Nil {
		httpkit.Error(c, http.StatusBadRequest, "missing leadId", nil)
		return
	}

	if err := h.sequencer.Cancel(c.Request.Context(), req.LeadID, c.Param("sequenceId"), time.Now().UTC()); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleStats returns run aggregates. GET /api/v1/sequences/:sequenceId/stats
func (h *Handler) HandleStats(c *gin.Context) {
	if _, ok := tenantFromContext(c); !ok {
		return
	}
	sequenceID := c.Param("sequenceId")
	if _, found := h.catalog.Sequence(sequenceID); !found {
		httpkit.Error(c, http.StatusNotFound, "sequence not found", nil)
		return
	}
	stats, err := h.repo.SequenceStats(c.Request.Context(), sequenceID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

func tenantFromContext(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(httpkit.ContextTenantIDKey)
	if !exists {
		httpkit.Error(c, http.StatusForbidden, "no tenant context", nil)
		return uuid.Nil, false
	}
	tenantID, ok := value.(uuid.UUID)
	if !ok {
		httpkit.Error(c, http.StatusForbidden, "no tenant context", nil)
		return uuid.Nil, false
	}
	return tenantID, true
}
