package leads

import (
	"net/http"
	"strconv"
	"time"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/httpkit"
	"leadpulse_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves the lead roster endpoints.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new leads handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// LeadResponse is the roster view of one lead.
type LeadResponse struct {
	ID              uuid.UUID                        `json:"id"`
	PrimaryPlatform domain.Platform                  `json:"primaryPlatform"`
	Email           string                           `json:"email,omitempty"`
	Phone           string                           `json:"phone,omitempty"`
	Status          domain.LeadStatus                `json:"status"`
	Score           float64                          `json:"score"`
	Counters        map[domain.EngagementType]int64  `json:"counters,omitempty"`
	OriginCounters  map[domain.Platform]int64        `json:"originCounters,omitempty"`
	FirstEngagedAt  *string                          `json:"firstEngagedAt,omitempty"`
	LastEngagedAt   *string                          `json:"lastEngagedAt,omitempty"`
	DMSent          bool                             `json:"dmSent"`
	OutreachCount   int                              `json:"outreachCount"`
	Tags            []string                         `json:"tags,omitempty"`
	Interests       []string                         `json:"interests,omitempty"`
	CreatedAt       string                           `json:"createdAt"`
}

func toLeadResponse(lead *domain.Lead) LeadResponse {
	resp := LeadResponse{
		ID:              lead.ID,
		PrimaryPlatform: lead.PrimaryPlatform,
		Email:           lead.Email,
		Phone:           lead.Phone,
		Status:          lead.Status,
		Score:           lead.Score,
		Counters:        lead.CountersByType,
		OriginCounters:  lead.CountersByOrigin,
		DMSent:          lead.DMSent,
		OutreachCount:   lead.OutreachCount,
		Tags:            lead.Tags,
		Interests:       lead.Interests,
		CreatedAt:       lead.CreatedAt.Format(timeFormat),
	}
	if lead.FirstEngagedAt != nil {
		s := lead.FirstEngagedAt.Format(timeFormat)
		resp.FirstEngagedAt = &s
	}
	if lead.LastEngagedAt != nil {
		s := lead.LastEngagedAt.Format(timeFormat)
		resp.LastEngagedAt = &s
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// HandleList lists leads. GET /api/v1/leads
func (h *Handler) HandleList(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	filter := Filter{
		Status:   domain.LeadStatus(c.Query("status")),
		Platform: domain.Platform(c.Query("platform")),
		Tag:      c.Query("tag"),
	}
	if filter.Status != "" && !domain.KnownStatuses[filter.Status] {
		httpkit.Error(c, http.StatusBadRequest, "unknown status filter", nil)
		return
	}
	if filter.Platform != "" && !domain.KnownPlatforms[filter.Platform] {
		httpkit.Error(c, http.StatusBadRequest, "unknown platform filter", nil)
		return
	}
	filter.MinScore, _ = strconv.ParseFloat(c.DefaultQuery("minScore", "0"), 64)
	filter.MaxScore, _ = strconv.ParseFloat(c.DefaultQuery("maxScore", "0"), 64)
	filter.Search = c.Query("search")
	if after, err := time.Parse(time.RFC3339, c.Query("engagedAfter")); err == nil {
		filter.EngagedAfter = &after
	}
	if before, err := time.Parse(time.RFC3339, c.Query("engagedBefore")); err == nil {
		filter.EngagedBefore = &before
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	leads, err := h.service.List(c.Request.Context(), tenantID, filter)
	if httpkit.HandleError(c, err) {
		return
	}
	result := make([]LeadResponse, len(leads))
	for i, lead := range leads {
		result[i] = toLeadResponse(lead)
	}
	httpkit.OK(c, result)
}

// HandleGet returns one lead. GET /api/v1/leads/:leadId
func (h *Handler) HandleGet(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	lead, err := h.service.Get(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toLeadResponse(lead))
}

// HandleEngagements returns the lead's engagement history.
// GET /api/v1/leads/:leadId/engagements
func (h *Handler) HandleEngagements(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	history, err := h.service.Engagements(c.Request.Context(), tenantID, leadID, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, history)
}

// HandleRecentEngagements returns the tenant activity feed.
// GET /api/v1/leads/engagements/recent
func (h *Handler) HandleRecentEngagements(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	feed, err := h.service.RecentEngagements(c.Request.Context(), tenantID, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, feed)
}

// HandleProfiles returns the lead's social profiles.
// GET /api/v1/leads/:leadId/profiles
func (h *Handler) HandleProfiles(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	profiles, err := h.service.Profiles(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, profiles)
}

// HandleConvert marks the lead as customer. POST /api/v1/leads/:leadId/convert
func (h *Handler) HandleConvert(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	lead, err := h.service.Convert(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toLeadResponse(lead))
}

// HandleChurn manually archives the lead. POST /api/v1/leads/:leadId/churn
func (h *Handler) HandleChurn(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	lead, err := h.service.Churn(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toLeadResponse(lead))
}

// TagRequest adds or removes one tag.
type TagRequest struct {
	Tag string `json:"tag" validate:"required,max=60"`
}

// HandleAddTag attaches a tag. POST /api/v1/leads/:leadId/tags
func (h *Handler) HandleAddTag(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.service.AddTag(c.Request.Context(), tenantID, leadID, req.Tag); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleRemoveTag detaches a tag. DELETE /api/v1/leads/:leadId/tags/:tag
func (h *Handler) HandleRemoveTag(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	if err := h.service.RemoveTag(c.Request.Context(), tenantID, leadID, c.Param("tag")); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NoteRequest appends one note to the lead's log.
type NoteRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// HandleAddNote appends a note. POST /api/v1/leads/:leadId/notes
func (h *Handler) HandleAddNote(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	var author string
	if value, exists := c.Get(httpkit.ContextUserIDKey); exists {
		if userID, ok := value.(uuid.UUID); ok {
			author = userID.String()
		}
	}

	note, err := h.service.AddNote(c.Request.Context(), tenantID, leadID, author, req.Body)
	if httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusCreated, note)
}

// HandleNotes returns the note log. GET /api/v1/leads/:leadId/notes
func (h *Handler) HandleNotes(c *gin.Context) {
	tenantID, leadID, ok := h.leadRequest(c)
	if !ok {
		return
	}
	notes, err := h.service.Notes(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, notes)
}

// HandleStats returns the tenant dashboard aggregates. GET /api/v1/leads/stats
func (h *Handler) HandleStats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

func (h *Handler) leadRequest(c *gin.Context) (tenantID, leadID uuid.UUID, ok bool) {
	tenantID, ok = tenantFromContext(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead ID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, leadID, true
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
