package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful write operations.
// It maps the matched route pattern to an audit action.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapPathToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var actorID *uuid.UUID
		if id, ok := UserIDFrom(c); ok {
			actorID = &id
		}

		detailFields := map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}
		if signed, ok := c.Get(CtxCronAuth); ok && signed == true {
			detailFields["signed"] = true
		}
		details, _ := json.Marshal(detailFields)

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actorID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID(c),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func resourceID(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	return ""
}

func mapPathToAction(path, method string) (domain.AuditAction, string) {
	if !strings.HasPrefix(path, "/api/v1/orders") {
		return "", ""
	}
	switch {
	case path == "/api/v1/orders/purchase" && method == http.MethodPost:
		return domain.AuditActionPurchase, "order"
	case path == "/api/v1/orders/dispute" && method == http.MethodPost:
		return domain.AuditActionDisputeOpen, "dispute"
	case path == "/api/v1/orders/disputes/:id/resolve" && method == http.MethodPatch:
		return domain.AuditActionDisputeResolve, "dispute"
	case path == "/api/v1/orders/:id/release" && method == http.MethodPost:
		return domain.AuditActionEscrowRelease, "order"
	case path == "/api/v1/orders/:id/refund" && method == http.MethodPost:
		return domain.AuditActionEscrowRefund, "order"
	case path == "/api/v1/orders/cron/release-escrow" && method == http.MethodPost:
		return domain.AuditActionAutoRelease, "order"
	}
	return "", ""
}
