package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/lunchops_backend/models"
	"github.com/mmdatafocus/lunchops_backend/utils"
)

// TenantMiddleware resolves the tenant and actor for every request. The
// gateway in front of this service verifies the chat platform's webhook
// signature and forwards identity headers:
//
//	X-Provider       external chat platform name
//	X-Provider-Team  platform-assigned team/workspace id
//	X-Actor-Id       platform user id of the caller
//	X-Actor-Admin    "true" when the caller is a workspace admin
//
// First contact from an unknown team creates its organization. Everything
// downstream reads tenant/actor from the request context only.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.GetHeader("X-Provider")
		providerTeamId := c.GetHeader("X-Provider-Team")
		actorId := c.GetHeader("X-Actor-Id")
		if provider == "" || providerTeamId == "" || actorId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity headers"})
			c.Abort()
			return
		}

		org, err := models.FindOrCreateOrganization(c.Request.Context(), provider, providerTeamId, c.GetHeader("X-Team-Name"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant resolution failed"})
			c.Abort()
			return
		}

		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}

		ctx := c.Request.Context()
		ctx = utils.SetTenantIdInContext(ctx, org.ID.String())
		ctx = utils.SetUserIdInContext(ctx, actorId)
		ctx = utils.SetIsAdminInContext(ctx, c.GetHeader("X-Actor-Admin") == "true")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationId)
		c.Next()
	}
}
