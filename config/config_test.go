package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{Environment: "development"}
	assert.True(t, cfg.IsDevelopment())

	cfg = &Config{Environment: "production"}
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestLoadWithOptions_Defaults(t *testing.T) {
	clearEnv(t, "QUEUE_POLL_INTERVAL_SECONDS", "DB_HOST", "ENVIRONMENT")

	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 10*time.Second, cfg.Worker.QueuePollInterval)
	assert.Equal(t, 60*time.Second, cfg.Worker.DecisionLoopInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.DetectorLoopInterval)
}

func TestLoadWithOptions_EnvOverrides(t *testing.T) {
	clearEnv(t, "DB_HOST", "DB_PORT", "QUEUE_POLL_INTERVAL_SECONDS", "ENVIRONMENT")

	os.Setenv("DB_HOST", "dbhost")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("QUEUE_POLL_INTERVAL_SECONDS", "5")
	os.Setenv("ENVIRONMENT", "development")

	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "dbhost", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 5*time.Second, cfg.Worker.QueuePollInterval)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadSenderTable_DefaultPlusIndexed(t *testing.T) {
	clearEnv(t,
		"DEFAULT_SENDER_EMAIL", "DEFAULT_SENDER_TENANT_ID", "DEFAULT_SENDER_CLIENT_ID", "DEFAULT_SENDER_CLIENT_SECRET",
		"SENDER_1_EMAIL", "SENDER_1_TENANT_ID", "SENDER_1_CLIENT_ID", "SENDER_1_CLIENT_SECRET",
		"SENDER_2_EMAIL",
	)

	os.Setenv("DEFAULT_SENDER_EMAIL", "default@example.com")
	os.Setenv("DEFAULT_SENDER_TENANT_ID", "tenant-0")
	os.Setenv("SENDER_1_EMAIL", "sender1@example.com")
	os.Setenv("SENDER_1_TENANT_ID", "tenant-1")
	os.Setenv("SENDER_1_CLIENT_ID", "client-1")
	os.Setenv("SENDER_1_CLIENT_SECRET", "secret-1")

	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	require.Len(t, cfg.Senders.Credentials, 2)
	assert.Equal(t, "default@example.com", cfg.Senders.Credentials[0].Email)
	assert.Equal(t, "sender1@example.com", cfg.Senders.Credentials[1].Email)

	cred, ok := cfg.Senders.ByEmail("sender1@example.com")
	require.True(t, ok)
	assert.Equal(t, "tenant-1", cred.TenantID)

	_, ok = cfg.Senders.ByEmail("unknown@example.com")
	require.True(t, ok, "falls back to the first configured credential")
}

func TestSenderTable_ByEmail_EmptyTable(t *testing.T) {
	var table SenderTable
	_, ok := table.ByEmail("anyone@example.com")
	assert.False(t, ok)
}
