package users

import (
	"context"

	"github.com/piivault/piivault/internal/server/models"
)

// Repository persists user rows and their encryption metadata.
type Repository interface {
	// Create inserts the user row and one metadata row per encrypted field
	// in a single transaction and returns the generated user id. Columns
	// without a users-table mapping are dropped, not errors.
	Create(ctx context.Context, columns map[string]string, metadata []models.FieldMetadata) (string, error)

	// Get returns the stored columns (ciphertext included) and the metadata
	// keyed by original field name.
	Get(ctx context.Context, userID string) (*models.UserRecord, map[string]models.FieldMetadata, error)

	// List returns level-1-only summaries plus the total user count.
	List(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error)

	// Delete removes the user row; metadata rows go with it via CASCADE.
	Delete(ctx context.Context, userID string) error

	// UpdateField overwrites one storage column and upserts its metadata.
	UpdateField(ctx context.Context, userID, column, value string, metadata *models.FieldMetadata) error

	// ValidateSchema reports whether the expected tables and columns exist.
	ValidateSchema(ctx context.Context) (map[string]bool, error)
}
