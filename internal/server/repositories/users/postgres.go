// Package users provides the PostgreSQL-backed gateway for encrypted user
// rows and their encryption metadata.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/dbx"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/server/models"
)

// columnAllowlist maps incoming storage keys to actual users columns. It
// doubles as an injection guard: only these columns ever appear in
// dynamically assembled SQL.
var columnAllowlist = map[string]string{
	// level 1, stored as-is
	"email":      "email",
	"first_name": "first_name",
	"last_name":  "last_name",
	"phone":      "phone",

	// level 2
	"address_encrypted":       "address_encrypted",
	"dob_encrypted":           "dob_encrypted",
	"date_of_birth_encrypted": "dob_encrypted", // alias

	// level 3
	"ssn_encrypted":          "ssn_encrypted",
	"bank_account_encrypted": "bank_account_encrypted",
	"credit_card_encrypted":  "credit_card_encrypted",
}

// selectColumns is the fixed read set; queries never use SELECT *.
var selectColumns = []string{
	"email", "first_name", "last_name", "phone",
	"address_encrypted", "dob_encrypted",
	"ssn_encrypted", "bank_account_encrypted", "credit_card_encrypted",
}

// PostgresRepository implements Repository on a pooled *sql.DB.
type PostgresRepository struct {
	db     *sql.DB
	logger logging.Logger
}

func NewPostgresRepository(db *sql.DB, logger logging.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

// Create stores the allowlisted columns and their metadata rows in one
// transaction. Columns without a users-table mapping are dropped with a
// warning rather than failing the record; metadata for a dropped column is
// dropped with it.
func (r *PostgresRepository) Create(ctx context.Context, columns map[string]string, metadata []models.FieldMetadata) (string, error) {
	names := make([]string, 0, len(columns))
	values := make([]any, 0, len(columns))
	stored := make(map[string]bool, len(columns))

	// deterministic column order keeps the SQL stable
	keys := make([]string, 0, len(columns))
	for k := range columns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		column, ok := columnAllowlist[key]
		if !ok {
			r.logger.Warn(ctx, "dropping unmapped storage column", "column", key)
			continue
		}
		names = append(names, column)
		values = append(values, columns[key])
		stored[strings.TrimSuffix(key, "_encrypted")] = true
	}

	if len(names) == 0 {
		return "", fmt.Errorf("%w: no storable fields", common.ErrValidation)
	}

	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		"INSERT INTO users (%s) VALUES (%s) RETURNING id",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))

	var userID string

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := tx.QueryRowContext(ctx, query, values...).Scan(&userID); err != nil {
			return fmt.Errorf("%w: insert user: %v", common.ErrDatabase, err)
		}

		for _, m := range metadata {
			if !stored[m.FieldName] {
				continue
			}
			if err := insertMetadata(ctx, tx, userID, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return userID, nil
}

func insertMetadata(ctx context.Context, tx dbx.DBTX, userID string, m models.FieldMetadata) error {
	query := `
		INSERT INTO encryption_metadata (user_id, field_name, pii_level, app_key_version, kms_key_alias, encryption_algorithm)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := tx.ExecContext(ctx, query,
		userID, m.FieldName, int(m.Level), nullableVersion(m.AppKeyVersion), m.KMSKeyAlias, m.Method)
	if err != nil {
		return fmt.Errorf("%w: insert metadata for %s: %v", common.ErrDatabase, m.FieldName, err)
	}
	return nil
}

func nullableVersion(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.UserRecord, map[string]models.FieldMetadata, error) {
	query := fmt.Sprintf(
		"SELECT id, %s, created_at, updated_at FROM users WHERE id = $1",
		strings.Join(selectColumns, ", "))

	rec := &models.UserRecord{Columns: make(map[string]string)}
	scanned := make([]sql.NullString, len(selectColumns))

	dest := make([]any, 0, len(selectColumns)+3)
	dest = append(dest, &rec.ID)
	for i := range scanned {
		dest = append(dest, &scanned[i])
	}
	dest = append(dest, &rec.CreatedAt, &rec.UpdatedAt)

	err := r.db.QueryRowContext(ctx, query, userID).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: user %s", common.ErrNotFound, userID)
		}
		return nil, nil, fmt.Errorf("%w: get user: %v", common.ErrDatabase, err)
	}

	for i, column := range selectColumns {
		if scanned[i].Valid {
			rec.Columns[column] = scanned[i].String
		}
	}

	metadata, err := r.getMetadata(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	return rec, metadata, nil
}

func (r *PostgresRepository) getMetadata(ctx context.Context, userID string) (map[string]models.FieldMetadata, error) {
	query := `
		SELECT field_name, pii_level, app_key_version, kms_key_alias, encryption_algorithm, encrypted_at
		FROM encryption_metadata
		WHERE user_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get metadata: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	metadata := make(map[string]models.FieldMetadata)

	for rows.Next() {
		m := models.FieldMetadata{UserID: userID}
		var version sql.NullInt64
		var alias, method sql.NullString

		if err := rows.Scan(&m.FieldName, &m.Level, &version, &alias, &method, &m.EncryptedAt); err != nil {
			return nil, fmt.Errorf("%w: scan metadata: %v", common.ErrDatabase, err)
		}

		m.AppKeyVersion = int(version.Int64)
		m.KMSKeyAlias = alias.String
		m.Method = method.String
		metadata[m.FieldName] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate metadata: %v", common.ErrDatabase, err)
	}

	return metadata, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error) {
	query := `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list users: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	summaries := make([]models.UserSummary, 0, limit)

	for rows.Next() {
		var s models.UserSummary
		if err := rows.Scan(&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("%w: scan user summary: %v", common.ErrDatabase, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterate users: %v", common.ErrDatabase, err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count users: %v", common.ErrDatabase, err)
	}

	return summaries, total, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("%w: delete user: %v", common.ErrDatabase, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete user: %v", common.ErrDatabase, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", common.ErrNotFound, userID)
	}

	return nil
}

func (r *PostgresRepository) UpdateField(ctx context.Context, userID, column, value string, metadata *models.FieldMetadata) error {
	dbColumn, ok := columnAllowlist[column]
	if !ok {
		return fmt.Errorf("%w: unknown storage column %q", common.ErrValidation, column)
	}

	query := fmt.Sprintf("UPDATE users SET %s = $1, updated_at = NOW() WHERE id = $2", dbColumn)

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, query, value, userID)
		if err != nil {
			return fmt.Errorf("%w: update %s: %v", common.ErrDatabase, dbColumn, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: update %s: %v", common.ErrDatabase, dbColumn, err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: user %s", common.ErrNotFound, userID)
		}

		if metadata != nil {
			if err := upsertMetadata(ctx, tx, userID, *metadata); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertMetadata(ctx context.Context, tx dbx.DBTX, userID string, m models.FieldMetadata) error {
	query := `
		INSERT INTO encryption_metadata (user_id, field_name, pii_level, app_key_version, kms_key_alias, encryption_algorithm)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, field_name)
		DO UPDATE SET
			pii_level = EXCLUDED.pii_level,
			app_key_version = EXCLUDED.app_key_version,
			kms_key_alias = EXCLUDED.kms_key_alias,
			encryption_algorithm = EXCLUDED.encryption_algorithm,
			encrypted_at = NOW()
	`

	_, err := tx.ExecContext(ctx, query,
		userID, m.FieldName, int(m.Level), nullableVersion(m.AppKeyVersion), m.KMSKeyAlias, m.Method)
	if err != nil {
		return fmt.Errorf("%w: upsert metadata for %s: %v", common.ErrDatabase, m.FieldName, err)
	}
	return nil
}

// requiredColumns drives ValidateSchema; kept in sync with the migrations.
var requiredColumns = map[string][]string{
	"users": {
		"id", "email", "first_name", "last_name",
		"address_encrypted", "dob_encrypted", "ssn_encrypted",
		"bank_account_encrypted", "created_at", "updated_at",
	},
	"encryption_metadata": {
		"id", "user_id", "field_name", "pii_level",
		"app_key_version", "kms_key_alias", "encrypted_at",
	},
	"encryption_audit": {
		"id", "user_id", "field_name", "pii_level", "operation",
		"accessed_by", "success", "accessed_at",
	},
}

// ValidateSchema checks that every expected table has its expected columns.
// It is a health-check signal only; nothing on the read/write paths calls it.
func (r *PostgresRepository) ValidateSchema(ctx context.Context) (map[string]bool, error) {
	results := make(map[string]bool, len(requiredColumns)+1)
	overall := true

	for table, required := range requiredColumns {
		present, err := r.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}

		ok := true
		for _, col := range required {
			if _, found := present[col]; !found {
				ok = false
				break
			}
		}

		results[table] = ok
		overall = overall && ok
	}

	results["overall"] = overall
	return results, nil
}

func (r *PostgresRepository) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	query := `
		SELECT column_name FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = 'public'
	`

	rows, err := r.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect %s: %v", common.ErrDatabase, table, err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: inspect %s: %v", common.ErrDatabase, table, err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: inspect %s: %v", common.ErrDatabase, table, err)
	}

	return columns, nil
}
