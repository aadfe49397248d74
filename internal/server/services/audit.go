package services

import (
	"context"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/pii"
	"github.com/piivault/piivault/internal/server/models"
	"github.com/piivault/piivault/internal/server/repositories/audit"
)

// AuditLogger records encrypt/decrypt accesses, fire-and-forget: a failed
// write is logged and swallowed so the surrounding operation is never
// affected. The trail is best-effort, not a durability guarantee.
type AuditLogger struct {
	repo   audit.Repository
	logger logging.Logger
}

func NewAuditLogger(repo audit.Repository, logger logging.Logger) *AuditLogger {
	return &AuditLogger{repo: repo, logger: logger}
}

// Log appends one audit row. It never returns an error.
func (a *AuditLogger) Log(ctx context.Context, userID, fieldName string, level pii.Level, operation string, success bool, errorMessage string) {
	rec := &models.AuditRecord{
		FieldName:  fieldName,
		Level:      level,
		Operation:  operation,
		AccessedBy: common.AccessedBy,
		Success:    success,
	}
	if userID != "" {
		rec.UserID = &userID
	}
	if errorMessage != "" {
		rec.ErrorMessage = &errorMessage
	}

	if err := a.repo.Insert(ctx, rec); err != nil {
		a.logger.Error(ctx, "audit write failed",
			"user_id", userID, "field", fieldName, "operation", operation, "error", err)
	}
}
