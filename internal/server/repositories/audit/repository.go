package audit

import (
	"context"

	"github.com/piivault/piivault/internal/server/models"
)

// Repository persists the append-only audit trail.
type Repository interface {
	// Insert appends one audit row.
	Insert(ctx context.Context, rec *models.AuditRecord) error

	// Trail returns the most recent records, optionally filtered by user.
	// An empty userID means no filter.
	Trail(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error)
}
