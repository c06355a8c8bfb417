package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paddyledger/paddy_backend/utils"
)

const (
	HeaderCorrelationId = "x-correlation-id"
	HeaderActorId       = "x-actor-id"
	HeaderActorRole     = "x-actor-role"
)

// SessionMiddleware attaches the correlation id and the calling actor to the request context.
// A missing correlation id is generated and echoed back.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(HeaderCorrelationId)
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		c.Header(HeaderCorrelationId, cid)

		// the actor is recorded as the ledger sender; it is not authenticated here
		if actor := c.GetHeader(HeaderActorId); actor != "" {
			ctx = utils.SetActorIdInContext(ctx, actor)
		}
		if role := c.GetHeader(HeaderActorRole); role != "" {
			ctx = utils.SetActorRoleInContext(ctx, role)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
