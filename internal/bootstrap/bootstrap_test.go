package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/autocut-api/internal/billing"
	"github.com/maauso/autocut-api/internal/config"
	"github.com/maauso/autocut-api/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewDependencies_InMemory(t *testing.T) {
	cfg := &config.Config{
		Notifier:          config.NotifierLog,
		RetryPolicy:       "respend",
		DefaultMaxRetries: 2,
		TempDir:           t.TempDir(),
	}

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.Service)
	local, ok := deps.Storage.(*storage.LocalStorage)
	require.True(t, ok, "expected local storage, got %T", deps.Storage)
	assert.Equal(t, cfg.TempDir, local.Root())

	j, err := deps.Service.CreateJob(context.Background(), billing.CreateJobInput{UserID: "u1", Name: "a", CreditsCost: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, j.MaxRetries)
}

func TestNewDependencies_S3Storage(t *testing.T) {
	cfg := &config.Config{
		Notifier:           config.NotifierLog,
		TempDir:            t.TempDir(),
		S3Bucket:           "videos",
		S3Region:           "us-east-1",
		S3Endpoint:         "http://localhost:9000",
		AWSAccessKeyID:     "key",
		AWSSecretAccessKey: "secret",
	}

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer deps.Close()

	assert.IsType(t, &storage.S3Storage{}, deps.Storage)
}

func TestNewDependencies_UnreachableBackends(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"database", config.Config{DatabaseURL: "postgres://u:p@127.0.0.1:1/autocut?connect_timeout=1"}},
		{"redis", config.Config{Notifier: config.NotifierRedis, RedisAddr: "127.0.0.1:1"}},
		{"nats", config.Config{Notifier: config.NotifierNATS, NATSURL: "nats://127.0.0.1:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.TempDir = t.TempDir()
			_, err := NewDependencies(context.Background(), &cfg, testLogger())
			assert.Error(t, err)
		})
	}
}
