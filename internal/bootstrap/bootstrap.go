// Package bootstrap provides dependency initialization for the AutoCut API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/autocut-api/internal/billing"
	"github.com/maauso/autocut-api/internal/config"
	"github.com/maauso/autocut-api/internal/metrics"
	"github.com/maauso/autocut-api/internal/notify"
	"github.com/maauso/autocut-api/internal/storage"
	"github.com/maauso/autocut-api/internal/store"
	"github.com/maauso/autocut-api/internal/store/postgres"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service *billing.Service
	Storage storage.Storage

	closers []func()
}

// Close releases connections opened by NewDependencies, in reverse order.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// NewDependencies creates and initializes all dependencies for the application.
// On error, anything already opened is closed again.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Dependencies, err error) {
	deps := &Dependencies{}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	metrics.Register()

	st, err := deps.initStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := deps.initNotifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps.Storage, err = initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps.Service = billing.NewService(st,
		billing.WithLogger(logger),
		billing.WithNotifier(notifier),
		billing.WithRetryPolicy(cfg.Policy()),
		billing.WithDefaultMaxRetries(cfg.DefaultMaxRetries),
	)
	return deps, nil
}

// initStore selects PostgreSQL when DATABASE_URL is set and the in-memory store otherwise.
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if !cfg.PostgresEnabled() {
		logger.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		return store.NewMemory(), nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	d.closers = append(d.closers, pool.Close)

	logger.Info("postgres store configured",
		slog.Int("max_conns", int(cfg.DBMaxConns)),
	)
	return postgres.New(pool), nil
}

func (d *Dependencies) initNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	switch strings.ToLower(cfg.Notifier) {
	case config.NotifierNATS:
		nc, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		d.closers = append(d.closers, nc.Close)
		logger.Info("NATS notifier configured",
			slog.String("subject_prefix", cfg.NATSSubjectPrefix),
		)
		return notify.NewNATSNotifier(nc, cfg.NATSSubjectPrefix), nil

	case config.NotifierRedis:
		client, err := notify.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect Redis: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		logger.Info("Redis notifier configured",
			slog.String("channel", cfg.RedisChannel),
		)
		return notify.NewRedisNotifier(client, cfg.RedisChannel), nil

	default:
		return notify.NewLogNotifier(logger), nil
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			SpoolDir:        cfg.TempDir,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("dir", localStore.Root()),
	)
	return localStore, nil
}
