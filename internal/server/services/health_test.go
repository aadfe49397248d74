package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeyChecker struct {
	err error
}

func (f *fakeKeyChecker) Check(ctx context.Context, alias string) error {
	return f.err
}

type fakeSecretsAPI struct {
	err error
}

func (f *fakeSecretsAPI) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"app_encryption_keys":{"current_version":1,"level3_app_key_v1":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="}}`),
	}, nil
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	h := NewHealthService(&fakeKeyChecker{}, secrets.NewProvider(&fakeSecretsAPI{}, logger),
		db, &fakeUserRepo{}, logger, "alias/pii-level2")

	status := h.Check(context.Background())

	assert.Equal(t, "healthy", status["service"])
	assert.Equal(t, "healthy", status["kms"])
	assert.Equal(t, "healthy", status["secrets_manager"])
	assert.Equal(t, "healthy", status["database"])
	assert.Equal(t, "healthy", status["database_schema"])
}

func TestHealthCheck_DegradedComponents(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	h := NewHealthService(
		&fakeKeyChecker{err: errors.New("kms unreachable")},
		secrets.NewProvider(&fakeSecretsAPI{err: errors.New("secrets unreachable")}, logger),
		db, &fakeUserRepo{}, logger, "alias/pii-level2")

	status := h.Check(context.Background())

	// the call itself still succeeds, each component reports its own failure
	assert.Equal(t, "healthy", status["service"])
	assert.Contains(t, status["kms"], "error:")
	assert.Contains(t, status["secrets_manager"], "error:")
	assert.Contains(t, status["database"], "error:")
	assert.Equal(t, "healthy", status["database_schema"])
}
