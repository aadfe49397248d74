// Package audit provides the PostgreSQL-backed store for the encryption
// audit trail. Rows are append-only and never mutated.
package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/dbx"
	"github.com/piivault/piivault/internal/server/models"
)

// PostgresRepository implements Repository.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO encryption_audit (user_id, field_name, pii_level, operation, accessed_by, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var userID sql.NullString
	if rec.UserID != nil {
		userID = sql.NullString{String: *rec.UserID, Valid: true}
	}
	var errMsg sql.NullString
	if rec.ErrorMessage != nil {
		errMsg = sql.NullString{String: *rec.ErrorMessage, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		userID, rec.FieldName, int(rec.Level), rec.Operation, rec.AccessedBy, rec.Success, errMsg)
	if err != nil {
		return fmt.Errorf("%w: insert audit row: %v", common.ErrDatabase, err)
	}

	return nil
}

func (r *PostgresRepository) Trail(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if userID != "" {
		query := `
			SELECT id, user_id, field_name, pii_level, operation, accessed_by, success, error_message, accessed_at
			FROM encryption_audit
			WHERE user_id = $1
			ORDER BY accessed_at DESC
			LIMIT $2
		`
		rows, err = r.db.QueryContext(ctx, query, userID, limit)
	} else {
		query := `
			SELECT id, user_id, field_name, pii_level, operation, accessed_by, success, error_message, accessed_at
			FROM encryption_audit
			ORDER BY accessed_at DESC
			LIMIT $1
		`
		rows, err = r.db.QueryContext(ctx, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: audit trail: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	records := make([]models.AuditRecord, 0, limit)

	for rows.Next() {
		var rec models.AuditRecord
		var uid, errMsg sql.NullString

		if err := rows.Scan(&rec.ID, &uid, &rec.FieldName, &rec.Level, &rec.Operation,
			&rec.AccessedBy, &rec.Success, &errMsg, &rec.AccessedAt); err != nil {
			return nil, fmt.Errorf("%w: scan audit row: %v", common.ErrDatabase, err)
		}

		if uid.Valid {
			rec.UserID = &uid.String
		}
		if errMsg.Valid {
			rec.ErrorMessage = &errMsg.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate audit rows: %v", common.ErrDatabase, err)
	}

	return records, nil
}
