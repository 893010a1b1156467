package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "./data/boardgames.db", cfg.Database.Path)
	assert.Equal(t, "boardgame.exchange", cfg.Queue.Exchange)
	assert.Equal(t, "translation.requests", cfg.Queue.RequestQueue)
	assert.Equal(t, "translation.request", cfg.Queue.RequestKey)
	assert.Equal(t, "translation.completed", cfg.Queue.CompletedKey)
	assert.Equal(t, 600*time.Second, cfg.Queue.Heartbeat)
	assert.Equal(t, ProviderLocal, cfg.Translate.Provider)
	assert.Equal(t, 5000, cfg.Translate.DescriptionCap)
	assert.Equal(t, 2, cfg.Translate.MaxRulebooks)
	assert.True(t, cfg.Translate.PreserveProperNouns)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 50, cfg.Fetch.MaxPDFPages)
	assert.Equal(t, 2*time.Second, cfg.Batch.DownloadDelay)
	assert.Equal(t, language.Vietnamese, cfg.Translate.Target())
}

func TestNewFromEnv_ReadsPrefixedSections(t *testing.T) {
	t.Setenv("TRANSLATION_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("RABBITMQ_URL", "amqp://user:pw@mq:5672/")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://bg:bg@db:5432/boardgames")
	t.Setenv("TRANSLATION_MAX_RULEBOOKS", "4")
	t.Setenv("FETCH_TIMEOUT", "45s")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.Translate.Provider)
	assert.Equal(t, "gm-key", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	assert.Equal(t, "amqp://user:pw@mq:5672/", cfg.Queue.URL)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Translate.MaxRulebooks)
	assert.Equal(t, 45*time.Second, cfg.Fetch.Timeout)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		opts    []Option
		wantErr string
	}{
		{name: "gemini without key", opts: []Option{WithProvider(ProviderGemini)}, wantErr: "GEMINI_API_KEY"},
		{name: "openai without key", opts: []Option{WithProvider(ProviderOpenAI)}, wantErr: "OPENAI_API_KEY"},
		{name: "unknown provider", opts: []Option{WithProvider("deepl")}, wantErr: "TRANSLATION_PROVIDER"},
		{name: "postgres without dsn", env: map[string]string{"DB_DRIVER": "postgres"}, wantErr: "DB_DSN"},
		{name: "bad fetch mode", opts: []Option{WithFetchMode("ftp")}, wantErr: "FETCH_MODE"},
		{name: "bad fallback", env: map[string]string{"TRANSLATION_FALLBACK": "drop"}, wantErr: "TRANSLATION_FALLBACK"},
		{name: "bad watchdog cron", env: map[string]string{"ADMIN_WATCHDOG_CRON": "every minute"}, wantErr: "invalid cron"},
		{name: "zero rulebook cap", env: map[string]string{"TRANSLATION_MAX_RULEBOOKS": "0"}, wantErr: "MAX_RULEBOOKS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv(tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWithSQLitePath(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")

	cfg, err := NewFromEnv(WithSQLitePath("/tmp/bg/test.db"))
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/bg/test.db", cfg.Database.Path)
}
