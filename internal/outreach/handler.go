package outreach

import (
	"net/http"
	"strconv"
	"time"

	"leadpulse_backend/internal/governor"
	"leadpulse_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves the outreach review endpoints: the manual approval queue
// and the dead letter log.
type Handler struct {
	service *Service
	queue   *governor.Repository
	repo    *Repository
}

// NewHandler creates a new outreach handler.
func NewHandler(service *Service, queue *governor.Repository, repo *Repository) *Handler {
	return &Handler{service: service, queue: queue, repo: repo}
}

// HandlePending lists the tenant's actions awaiting approval.
// GET /api/v1/admin/outreach/pending
func (h *Handler) HandlePending(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	pending, err := h.queue.ListPending(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, pending)
}

// HandleApprove releases a queued action for delivery.
// POST /api/v1/admin/outreach/pending/:actionId/approve
func (h *Handler) HandleApprove(c *gin.Context) {
	h.resolve(c, governor.ReviewApproved)
}

// HandleReject discards a queued action.
// POST /api/v1/admin/outreach/pending/:actionId/reject
func (h *Handler) HandleReject(c *gin.Context) {
	h.resolve(c, governor.ReviewRejected)
}

func (h *Handler) resolve(c *gin.Context, status governor.ReviewStatus) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	actionID, err := uuid.Parse(c.Param("actionId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid action ID", nil)
		return
	}

	var reviewer string
	if value, exists := c.Get(httpkit.ContextUserIDKey); exists {
		if userID, ok := value.(uuid.UUID); ok {
			reviewer = userID.String()
		}
	}

	now := time.Now().UTC()
	queued, err := h.queue.Resolve(c.Request.Context(), tenantID, actionID, status, reviewer, now)
	if httpkit.HandleError(c, err) {
		return
	}

	if status == governor.ReviewApproved {
		if err := h.service.DispatchApproved(c.Request.Context(), queued.Action, now); err != nil {
			httpkit.HandleError(c, err)
			return
		}
	}
	httpkit.OK(c, queued)
}

// HandleDeadLetters lists permanently failed sends.
// GET /api/v1/admin/outreach/dead-letters
func (h *Handler) HandleDeadLetters(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	letters, err := h.repo.List(c.Request.Context(), tenantID, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, letters)
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
