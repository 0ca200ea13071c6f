package handlers

import (
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printapp/internal/api/middleware"
	"github.com/orrn/printapp/internal/db"
)

// recordAudit appends an admin action to the audit log. Failures are logged
// and otherwise ignored.
func recordAudit(c *gin.Context, log *slog.Logger, action, entityType, entityID string, details gin.H) {
	if db.GetDB() == nil {
		return
	}

	entry := &db.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  c.ClientIP(),
	}
	if user := middleware.CurrentIdentity(c).User; user != "" {
		if details == nil {
			details = gin.H{}
		}
		details["user"] = user
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.DetailsJSON = string(b)
		}
	}

	if err := db.Audit.CreateAuditLog(c.Request.Context(), entry); err != nil {
		log.Warn("failed to write audit log", "action", action, "error", err)
	}
}
