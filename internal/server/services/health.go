package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/secrets"
	"github.com/piivault/piivault/internal/server/repositories/users"
)

// KeyChecker probes the envelope-encryption service.
type KeyChecker interface {
	Check(ctx context.Context, alias string) error
}

// HealthService aggregates component probes. Each probe degrades its own
// status; one broken dependency never fails the health call itself.
type HealthService struct {
	envelope KeyChecker
	provider *secrets.Provider
	db       *sql.DB
	repo     users.Repository
	logger   logging.Logger
	alias    string
}

func NewHealthService(envelope KeyChecker, provider *secrets.Provider, db *sql.DB, repo users.Repository, logger logging.Logger, probeAlias string) *HealthService {
	return &HealthService{
		envelope: envelope,
		provider: provider,
		db:       db,
		repo:     repo,
		logger:   logger,
		alias:    probeAlias,
	}
}

// Check returns a status string per component: "healthy" or "error: ...".
func (h *HealthService) Check(ctx context.Context) map[string]string {
	status := map[string]string{
		"service":         "healthy",
		"kms":             "unknown",
		"secrets_manager": "unknown",
		"database":        "unknown",
		"database_schema": "unknown",
	}

	if err := h.envelope.Check(ctx, h.alias); err != nil {
		status["kms"] = fmt.Sprintf("error: %v", err)
	} else {
		status["kms"] = "healthy"
	}

	if _, err := h.provider.AppKeys(ctx); err != nil {
		status["secrets_manager"] = fmt.Sprintf("error: %v", err)
	} else {
		status["secrets_manager"] = "healthy"
	}

	if err := h.db.PingContext(ctx); err != nil {
		status["database"] = fmt.Sprintf("error: %v", err)
	} else {
		status["database"] = "healthy"
	}

	results, err := h.repo.ValidateSchema(ctx)
	switch {
	case err != nil:
		status["database_schema"] = fmt.Sprintf("error: %v", err)
	case !results["overall"]:
		status["database_schema"] = fmt.Sprintf("validation failed: %v", results)
	default:
		status["database_schema"] = "healthy"
	}

	for component, s := range status {
		if s != "healthy" {
			h.logger.Warn(ctx, "health probe degraded", "component", component, "status", s)
		}
	}

	return status
}
