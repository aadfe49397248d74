package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/pii"
	"github.com/piivault/piivault/internal/server/models"
	"github.com/piivault/piivault/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserOps struct {
	createErr error
	getErr    error
	deleteErr error

	decryptedMetadata map[string]models.FieldMetadata
	panicOnList       bool
}

func (f *fakeUserOps) Create(ctx context.Context, data map[string]string) (string, int, error) {
	if len(data) == 0 {
		return "", 0, fmt.Errorf("%w: missing 'data'", common.ErrValidation)
	}
	if f.createErr != nil {
		return "", 0, f.createErr
	}
	return "u-42", len(data), nil
}

func (f *fakeUserOps) Get(ctx context.Context, userID string) (map[string]string, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return map[string]string{"email": "a@b.com", "ssn": "123-45-6789"}, nil
}

func (f *fakeUserOps) List(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error) {
	if f.panicOnList {
		panic("boom")
	}
	return []models.UserSummary{{ID: "u-1"}, {ID: "u-2"}}, 5, nil
}

func (f *fakeUserOps) Delete(ctx context.Context, userID string) error {
	return f.deleteErr
}

func (f *fakeUserOps) Update(ctx context.Context, userID string, data map[string]string) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: missing 'data'", common.ErrValidation)
	}
	return len(data), nil
}

func (f *fakeUserOps) EncryptFields(ctx context.Context, data map[string]string) (*services.EncryptedFields, error) {
	return &services.EncryptedFields{
		Fields: map[string]string{"ssn_encrypted": "Y2lwaGVy"},
		Metadata: map[string]models.FieldMetadata{
			"ssn": {FieldName: "ssn", Level: pii.Level3, AppKeyVersion: 2, Method: "double_encryption"},
		},
	}, nil
}

func (f *fakeUserOps) DecryptFields(ctx context.Context, encryptedData map[string]string, metadata map[string]models.FieldMetadata) (map[string]string, error) {
	f.decryptedMetadata = metadata
	return map[string]string{"ssn": "123-45-6789"}, nil
}

func (f *fakeUserOps) AuditTrail(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	return []models.AuditRecord{{ID: 1, FieldName: "ssn", Operation: models.AuditOpDecrypt}}, nil
}

type fakeHealthOps struct{}

func (f *fakeHealthOps) Check(ctx context.Context) map[string]string {
	return map[string]string{"service": "healthy", "kms": "healthy"}
}

func newDispatcher(users *fakeUserOps) *Dispatcher {
	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	return New(users, &fakeHealthOps{}, logger)
}

func decodeBody(t *testing.T, resp Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	return body
}

func TestDispatch_Health(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{Operation: OpHealth})

	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["timestamp"])

	health := body["health"].(map[string]any)
	assert.Equal(t, "healthy", health["service"])
	assert.Equal(t, "healthy", health["kms"])
}

func TestDispatch_CreateUser(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpCreateUser,
		Data:      map[string]string{"email": "a@b.com", "ssn": "123-45-6789"},
	})

	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "u-42", body["user_id"])
	assert.Equal(t, float64(2), body["processed_fields"])
}

func TestDispatch_CreateUser_Validation(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{Operation: OpCreateUser})

	assert.Equal(t, 400, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "ValidationError", body["type"])
}

func TestDispatch_GetUser(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpGetUser,
		UserID:    "u-42",
	})

	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "123-45-6789", data["ssn"])
}

func TestDispatch_GetUser_MissingID(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{Operation: OpGetUser})

	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "ValidationError", decodeBody(t, resp)["type"])
}

func TestDispatch_GetUser_NotFound(t *testing.T) {
	users := &fakeUserOps{getErr: fmt.Errorf("%w: user u-9", common.ErrNotFound)}
	resp := newDispatcher(users).Dispatch(context.Background(), &Request{
		Operation: OpGetUser,
		UserID:    "u-9",
	})

	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "NotFoundError", decodeBody(t, resp)["type"])
}

func TestDispatch_ListUsers(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpListUsers,
		Limit:     2,
		Offset:    0,
	})

	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["users"], 2)

	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(5), pagination["total"])
	assert.Equal(t, float64(2), pagination["limit"])
	assert.Equal(t, true, pagination["has_more"])
}

func TestDispatch_ListUsers_DefaultLimit(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpListUsers,
		Limit:     0,
		Offset:    -3,
	})

	pagination := decodeBody(t, resp)["pagination"].(map[string]any)
	assert.Equal(t, float64(DefaultLimit), pagination["limit"])
	assert.Equal(t, float64(0), pagination["offset"])
}

func TestDispatch_ListUsers_LargeLimitPassedThrough(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpListUsers,
		Limit:     500,
	})

	pagination := decodeBody(t, resp)["pagination"].(map[string]any)
	assert.Equal(t, float64(500), pagination["limit"])
}

func TestDispatch_DeleteUser(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpDeleteUser,
		UserID:    "u-42",
	})

	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["deleted"])
}

func TestDispatch_UpdateUser(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpUpdateUser,
		UserID:    "u-42",
		Data:      map[string]string{"email": "new@b.com"},
	})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["updated_fields"])
}

func TestDispatch_Encrypt(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpEncrypt,
		Data:      map[string]string{"ssn": "123-45-6789"},
	})

	assert.Equal(t, 200, resp.StatusCode)
	encrypted := decodeBody(t, resp)["encrypted_data"].(map[string]any)
	fields := encrypted["fields"].(map[string]any)
	assert.Equal(t, "Y2lwaGVy", fields["ssn_encrypted"])

	metadata := encrypted["metadata"].(map[string]any)
	ssn := metadata["ssn"].(map[string]any)
	assert.Equal(t, float64(3), ssn["level"])
	assert.Equal(t, float64(2), ssn["app_key_version"])
	assert.Equal(t, "double_encryption", ssn["method"])
}

func TestDispatch_Decrypt(t *testing.T) {
	users := &fakeUserOps{}
	resp := newDispatcher(users).Dispatch(context.Background(), &Request{
		Operation:     OpDecrypt,
		EncryptedData: map[string]string{"ssn_encrypted": "Y2lwaGVy"},
		Metadata: map[string]FieldMeta{
			"ssn": {Level: pii.Level3, Method: "double_encryption", AppKeyVersion: 2},
		},
	})

	assert.Equal(t, 200, resp.StatusCode)
	decrypted := decodeBody(t, resp)["decrypted_data"].(map[string]any)
	assert.Equal(t, "123-45-6789", decrypted["ssn"])

	// wire metadata was converted to the persistence shape
	require.Contains(t, users.decryptedMetadata, "ssn")
	assert.Equal(t, pii.Level3, users.decryptedMetadata["ssn"].Level)
	assert.Equal(t, 2, users.decryptedMetadata["ssn"].AppKeyVersion)
}

func TestDispatch_Decrypt_MissingPayload(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{Operation: OpDecrypt})

	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "ValidationError", decodeBody(t, resp)["type"])
}

func TestDispatch_AuditTrail(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{
		Operation: OpAuditTrail,
		UserID:    "u-42",
	})

	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["audit_records"], 1)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, "u-42", body["user_id"])
}

func TestDispatch_UnknownOperation(t *testing.T) {
	resp := newDispatcher(&fakeUserOps{}).Dispatch(context.Background(), &Request{Operation: "drop_table"})

	assert.Equal(t, 400, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ValidationError", body["type"])
	assert.Contains(t, body["error"], "unknown operation")
}

func TestDispatch_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"key retrieval", fmt.Errorf("%w: secrets down", common.ErrKeyRetrieval), 500, "KeyRetrievalError"},
		{"encryption", fmt.Errorf("%w: kms down", common.ErrEncryption), 500, "EncryptionError"},
		{"database", fmt.Errorf("%w: conn refused", common.ErrDatabase), 500, "DatabaseError"},
		{"unclassified", fmt.Errorf("unexpected"), 500, "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUserOps{createErr: tt.err}
			resp := newDispatcher(users).Dispatch(context.Background(), &Request{
				Operation: OpCreateUser,
				Data:      map[string]string{"email": "a@b.com"},
			})

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantKind, decodeBody(t, resp)["type"])
		})
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	users := &fakeUserOps{panicOnList: true}
	resp := newDispatcher(users).Dispatch(context.Background(), &Request{Operation: OpListUsers})

	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "InternalError", decodeBody(t, resp)["type"])
}
