package ingest

import (
	"encoding/json"
	"net/http"

	"leadpulse_backend/platform/apperr"
	"leadpulse_backend/platform/httpkit"
	"leadpulse_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errNoTenantContext = "no tenant context"
	errInvalidRequest  = "invalid request body"
)

// Handler handles webhook ingestion and API key management requests.
type Handler struct {
	service *Service
	repo    *Repository
	val     *validator.Validator
}

// NewHandler creates a new ingest handler.
func NewHandler(service *Service, repo *Repository, val *validator.Validator) *Handler {
	return &Handler{service: service, repo: repo, val: val}
}

// ---- Webhook ingestion (public, API-key authenticated) ----

// HandleEngagement ingests one engagement event.
// POST /api/v1/webhooks/engagements
func (h *Handler) HandleEngagement(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}
	var raw RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), tenantID, raw, payload)
	if httpkit.HandleError(c, err) {
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		// Idempotent replay: same engagement, success either way.
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"engagementId": result.Engagement.ID,
		"leadId":       result.Engagement.LeadID,
		"duplicate":    result.Duplicate,
	})
}

// ProfileRefreshRequest carries a periodic profile counter refresh.
type ProfileRefreshRequest struct {
	Platform       string `json:"platform" validate:"required"`
	Username       string `json:"username" validate:"required"`
	FollowerCount  int    `json:"followerCount" validate:"gte=0"`
	FollowingCount int    `json:"followingCount" validate:"gte=0"`
}

// HandleProfileRefresh updates a profile's follower/following counters.
// POST /api/v1/webhooks/profile-refresh
func (h *Handler) HandleProfileRefresh(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req ProfileRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}

	err := h.service.RefreshProfile(c.Request.Context(), tenantID,
		req.Platform, req.Username, req.FollowerCount, req.FollowingCount)
	if httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- API key management (JWT authenticated) ----

// CreateAPIKeyRequest is the request body for creating a new API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// APIKeyResponse is returned when listing or creating API keys.
type APIKeyResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	KeyPrefix  string    `json:"keyPrefix"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  string    `json:"createdAt"`
	LastUsedAt *string   `json:"lastUsedAt,omitempty"`
}

// CreateAPIKeyResponse includes the plaintext key, shown only once.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// HandleCreateAPIKey creates a new webhook API key.
// POST /api/v1/admin/ingest/keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	tenantID, ok := authTenantID(c)
	if !ok {
		return
	}

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.HandleError(c, apperr.Internal("failed to generate key"))
		return
	}
	key, err := h.repo.CreateAPIKey(c.Request.Context(), tenantID, req.Name, hash, prefix)
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// HandleListAPIKeys lists the tenant's webhook API keys.
// GET /api/v1/admin/ingest/keys
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	tenantID, ok := authTenantID(c)
	if !ok {
		return
	}

	keys, err := h.repo.ListAPIKeys(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]APIKeyResponse, len(keys))
	for i, k := range keys {
		result[i] = toAPIKeyResponse(k)
	}
	httpkit.OK(c, result)
}

// HandleRevokeAPIKey deactivates a webhook API key.
// DELETE /api/v1/admin/ingest/keys/:keyId
func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	tenantID, ok := authTenantID(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key ID", nil)
		return
	}

	if err := h.repo.DeactivateAPIKey(c.Request.Context(), tenantID, keyID); err != nil {
		if err == ErrAPIKeyNotFound {
			httpkit.Error(c, http.StatusNotFound, "API key not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) tenantID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(ContextTenantIDKey)
	if !exists {
		httpkit.Error(c, http.StatusUnauthorized, errNoTenantContext, nil)
		return uuid.Nil, false
	}
	tenantID, ok := value.(uuid.UUID)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, errNoTenantContext, nil)
		return uuid.Nil, false
	}
	return tenantID, true
}

// authTenantID reads the tenant from the JWT auth context.
func authTenantID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(httpkit.ContextTenantIDKey)
	if !exists {
		httpkit.Error(c, http.StatusForbidden, errNoTenantContext, nil)
		return uuid.Nil, false
	}
	tenantID, ok := value.(uuid.UUID)
	if !ok {
		httpkit.Error(c, http.StatusForbidden, errNoTenantContext, nil)
		return uuid.Nil, false
	}
	return tenantID, true
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	resp := APIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if key.LastUsedAt != nil {
		formatted := key.LastUsedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.LastUsedAt = &formatted
	}
	return resp
}
