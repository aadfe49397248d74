// Package dispatch routes operation requests to the service layer and
// renders Lambda-style response envelopes: an outer statusCode plus a
// JSON-encoded body string.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/pii"
	"github.com/piivault/piivault/internal/server/models"
	"github.com/piivault/piivault/internal/server/services"
)

// Operations accepted by Dispatch.
const (
	OpHealth     = "health"
	OpCreateUser = "create_user"
	OpGetUser    = "get_user"
	OpListUsers  = "list_users"
	OpDeleteUser = "delete_user"
	OpUpdateUser = "update_user"
	OpEncrypt    = "encrypt"
	OpDecrypt    = "decrypt"
	OpAuditTrail = "audit_trail"
)

// DefaultLimit applies to list and audit queries when the caller sends no
// limit of its own.
const DefaultLimit = 100

// Request is the invocation payload.
type Request struct {
	Operation     string               `json:"operation"`
	UserID        string               `json:"user_id,omitempty"`
	Data          map[string]string    `json:"data,omitempty"`
	EncryptedData map[string]string    `json:"encrypted_data,omitempty"`
	Metadata      map[string]FieldMeta `json:"metadata,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
	Offset        int                  `json:"offset,omitempty"`
}

// Response is the invocation envelope. Body is itself JSON; transport
// failures aside, callers inspect StatusCode rather than the HTTP status.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// FieldMeta is the wire form of per-field encryption metadata, exchanged
// with callers on the raw encrypt and decrypt operations.
type FieldMeta struct {
	Level         pii.Level `json:"level"`
	Method        string    `json:"method,omitempty"`
	AppKeyVersion int       `json:"app_key_version,omitempty"`
	KMSKey        string    `json:"kms_key,omitempty"`
}

// UserOps is the slice of the user service the dispatcher invokes.
type UserOps interface {
	Create(ctx context.Context, data map[string]string) (string, int, error)
	Get(ctx context.Context, userID string) (map[string]string, error)
	List(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error)
	Delete(ctx context.Context, userID string) error
	Update(ctx context.Context, userID string, data map[string]string) (int, error)
	EncryptFields(ctx context.Context, data map[string]string) (*services.EncryptedFields, error)
	DecryptFields(ctx context.Context, encryptedData map[string]string, metadata map[string]models.FieldMetadata) (map[string]string, error)
	AuditTrail(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error)
}

// HealthOps reports per-component status.
type HealthOps interface {
	Check(ctx context.Context) map[string]string
}

// Dispatcher maps operations onto the user and health services.
type Dispatcher struct {
	users  UserOps
	health HealthOps
	logger logging.Logger
}

func New(users UserOps, health HealthOps, logger logging.Logger) *Dispatcher {
	return &Dispatcher{users: users, health: health, logger: logger}
}

// Dispatch executes one operation. It never returns an error: every failure,
// including a panic in a handler, is rendered into the response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "panic in operation handler",
				"operation", req.Operation, "panic", r)
			resp = errorResponse(fmt.Errorf("%w: internal error", common.ErrInternal))
		}
	}()

	d.logger.Debug(ctx, "dispatching", "operation", req.Operation)

	switch req.Operation {
	case OpHealth:
		return d.healthCheck(ctx)
	case OpCreateUser:
		return d.createUser(ctx, req)
	case OpGetUser:
		return d.getUser(ctx, req)
	case OpListUsers:
		return d.listUsers(ctx, req)
	case OpDeleteUser:
		return d.deleteUser(ctx, req)
	case OpUpdateUser:
		return d.updateUser(ctx, req)
	case OpEncrypt:
		return d.encrypt(ctx, req)
	case OpDecrypt:
		return d.decrypt(ctx, req)
	case OpAuditTrail:
		return d.auditTrail(ctx, req)
	default:
		return errorResponse(fmt.Errorf("%w: unknown operation %q", common.ErrValidation, req.Operation))
	}
}

func (d *Dispatcher) healthCheck(ctx context.Context) Response {
	return successResponse(map[string]any{
		"success":   true,
		"health":    d.health.Check(ctx),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (d *Dispatcher) createUser(ctx context.Context, req *Request) Response {
	userID, processed, err := d.users.Create(ctx, req.Data)
	if err != nil {
		return errorResponse(err)
	}
	return successResponse(map[string]any{
		"success":          true,
		"user_id":          userID,
		"processed_fields": processed,
		"message":          "User created successfully",
	})
}

func (d *Dispatcher) getUser(ctx context.Context, req *Request) Response {
	if req.UserID == "" {
		return errorResponse(fmt.Errorf("%w: missing 'user_id'", common.ErrValidation))
	}
	data, err := d.users.Get(ctx, req.UserID)
	if err != nil {
		return errorResponse(err)
	}
	return successResponse(map[string]any{
		"success": true,
		"user_id": req.UserID,
		"data":    data,
	})
}

func (d *Dispatcher) listUsers(ctx context.Context, req *Request) Response {
	limit, offset := req.Limit, req.Offset
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, total, err := d.users.List(ctx, limit, offset)
	if err != nil {
		return errorResponse(err)
	}
	return successResponse(map[string]any{
		"success": true,
		"users":   users,
		"pagination": map[string]any{
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": offset+len(users) < total,
		},
	})
}

func (d *Dispatcher) deleteUser(ctx context.Context, req *Request) Response {
	if req.UserID == "" {
		return errorResponse(fmt.Errorf("%w: missing 'user_id'", common.ErrValidation))
	}
	if err := d.users.Delete(ctx, req.UserID); err != nil {
		return errorResponse(err)
	}
	return successResponse(map[string]any{
		"success": true,
		"user_id": req.UserID,
		"deleted": true,
		"message": "User deleted; encrypted fields are unrecoverable",
	})
}

func (d *Dispatcher) updateUser(ctx context.Context, req *Request) Response {
	if req.UserID == "" {
		return errorResponse(fmt.Errorf("%w: missing 'user_id'", common.ErrValidation))
	}
	updated, err := d.users.Update(ctx, req.UserID, req.Data)
	if err != nil {
		return errorResponse(err)
	}
	return successResponse(map[string]any{
		"success":        true,
		"user_id":        req.UserID,
		"updated_fields": updated,
		"message":        "User updated successfully",
	})
}

func (d *Dispatcher) encrypt(ctx context.Context, req *Request) Response {
	if len(req.Data) == 0 {
		return errorResponse(fmt.Errorf("%w: missing 'data'", common.ErrValidation))
	}
	encrypted, err := d.users.EncryptFields(ctx, req.Data)
	if err != nil {
		return errorResponse(err)
	}

	metadata := make(map[string]FieldMeta, len(encrypted.Metadata))
	for name, m := range encrypted.Metadata {
		metadata[name] = FieldMeta{
			Level:         m.Level,
			Method:        m.Method,
			AppKeyVersion: m.AppKeyVersion,
			KMSKey:        m.KMSKeyAlias,
		}
	}
	return successResponse(map[string]any{
		"success": true,
		"encrypted_data": map[string]any{
			"fields":   encrypted.Fields,
			"metadata": metadata,
		},
	})
}

func (d *Dispatcher) decrypt(ctx context.Context, req *Request) Response {
	if len(req.EncryptedData) == 0 {
		return errorResponse(fmt.Errorf("%w: missing 'encrypted_data'", common.ErrValidation))
	}

	metadata := make(map[string]models.FieldMetadata, len(req.Metadata))
	for name, m := range req.Metadata {
		metadata[name] = models.FieldMetadata{
			FieldName:     name,
			Level:         m.Level,
			Method:        m.Method,
			AppKeyVersion: m.AppKeyVersion,
			KMSKeyAlias:   m.KMSKey,
		}
	}

	data, err := d.users.DecryptFields(ctx, req.EncryptedData, metadata)
	if err != nil {
		return errorResponse(err)
	}
	return successResponse(map[string]any{
		"success":        true,
		"decrypted_data": data,
	})
}

func (d *Dispatcher) auditTrail(ctx context.Context, req *Request) Response {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	records, err := d.users.AuditTrail(ctx, req.UserID, limit)
	if err != nil {
		return errorResponse(err)
	}

	body := map[string]any{
		"success":       true,
		"audit_records": records,
		"total":         len(records),
		"limit":         limit,
	}
	if req.UserID != "" {
		body["user_id"] = req.UserID
	}
	return successResponse(body)
}

func successResponse(body map[string]any) Response {
	return envelope(200, body)
}

// errorResponse maps the error chain onto a status code and a stable error
// type name callers can branch on.
func errorResponse(err error) Response {
	code, kind := 500, "InternalError"
	switch {
	case errors.Is(err, common.ErrValidation):
		code, kind = 400, "ValidationError"
	case errors.Is(err, common.ErrNotFound):
		code, kind = 404, "NotFoundError"
	case errors.Is(err, common.ErrKeyRetrieval):
		kind = "KeyRetrievalError"
	case errors.Is(err, common.ErrEncryption):
		kind = "EncryptionError"
	case errors.Is(err, common.ErrDecryption):
		kind = "DecryptionError"
	case errors.Is(err, common.ErrDatabase):
		kind = "DatabaseError"
	}

	return envelope(code, map[string]any{
		"success": false,
		"error":   err.Error(),
		"type":    kind,
	})
}

func envelope(code int, body map[string]any) Response {
	encoded, err := json.Marshal(body)
	if err != nil {
		// response bodies are maps of marshalable values; reaching this
		// means a programming error
		encoded = []byte(`{"success":false,"error":"response encoding failed","type":"InternalError"}`)
		code = 500
	}
	return Response{StatusCode: code, Body: string(encoded)}
}
