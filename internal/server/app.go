// Package server initializes and runs the PII vault server. It wires the
// AWS clients, the key provider, the encryption engine, the PostgreSQL
// repositories, and the operation dispatcher, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/piivault/piivault/internal/engine"
	"github.com/piivault/piivault/internal/kmsx"
	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/pii"
	"github.com/piivault/piivault/internal/secrets"
	"github.com/piivault/piivault/internal/server/config"
	"github.com/piivault/piivault/internal/server/dispatch"
	"github.com/piivault/piivault/internal/server/migrations"
	"github.com/piivault/piivault/internal/server/repositories/audit"
	"github.com/piivault/piivault/internal/server/repositories/users"
	"github.com/piivault/piivault/internal/server/services"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	provider   *secrets.Provider
	dispatcher *dispatch.Dispatcher
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	awsCfg, err := newAWSConfig(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("aws config error: %w", err)
	}

	kmsClient := kms.NewFromConfig(awsCfg, func(o *kms.Options) {
		if c.AWSBaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.AWSBaseEndpoint)
		}
	})
	smClient := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if c.AWSBaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.AWSBaseEndpoint)
		}
	})

	provider := secrets.NewProvider(smClient, logger,
		secrets.WithTTL(c.KeyCacheTTL),
		secrets.WithSecretIDs(c.KeysSecretID, c.CredentialsSecretID),
	)

	db, err := openDatabase(ctx, c, provider)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	envelope := kmsx.NewService(kmsClient, logger)
	eng := engine.New(pii.NewClassifier(logger), envelope, provider, logger,
		engine.WithAliases(c.Level2KeyAlias, c.Level3KeyAlias))

	userRepo := users.NewPostgresRepository(db, logger)
	auditRepo := audit.NewPostgresRepository(db)

	auditLogger := services.NewAuditLogger(auditRepo, logger)
	userService := services.NewUserService(userRepo, eng, auditLogger, logger)
	healthService := services.NewHealthService(envelope, provider, db, userRepo, logger, c.Level2KeyAlias)

	dispatcher := dispatch.New(userService, healthService, logger)

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		provider:   provider,
		dispatcher: dispatcher,
	}, nil
}

func newAWSConfig(ctx context.Context, c *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.AWSRegion),
	}
	if c.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWSAccessKeyID, c.AWSSecretAccessKey, "")))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// openDatabase resolves the DSN (explicit config wins, otherwise the
// database credentials secret) and opens a bounded connection pool.
func openDatabase(ctx context.Context, c *config.Config, provider *secrets.Provider) (*sql.DB, error) {
	dsn := c.DatabaseDSN
	if dsn == "" {
		creds, err := provider.Credentials(ctx)
		if err != nil {
			return nil, err
		}
		dsn = creds.DSN()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
}
