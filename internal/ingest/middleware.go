package ingest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextTenantIDKey is the gin context key carrying the tenant resolved
// from the webhook API key.
const ContextTenantIDKey = "ingestTenantID"

// APIKeyAuthMiddleware validates the X-API-Key header against the stored
// key hashes and sets the tenant context for downstream handlers.
func APIKeyAuthMiddleware(repo *Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		key, err := repo.GetAPIKeyByHash(c.Request.Context(), HashKey(apiKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ContextTenantIDKey, key.TenantID)
		c.Next()
	}
}
