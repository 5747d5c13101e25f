package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dm-api", cfg.ServiceName)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, FanoutDriverLocal, cfg.FanoutDriver)
	assert.Equal(t, "dm_message_changes", cfg.ChangefeedChannel)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 30*time.Second, cfg.SessionMatchWindow)
	assert.Equal(t, 15*time.Second, cfg.RelayLockTTL)
	assert.Equal(t, 4096, cfg.ParticipantCacheSize)
	assert.True(t, cfg.TrustGatewayHeaders)
	assert.Equal(t, ":8190", cfg.Addr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DM_API_PORT", "9000")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("FANOUT_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SESSION_MATCH_WINDOW", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, FanoutDriverRedis, cfg.FanoutDriver)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 5*time.Second, cfg.SessionMatchWindow)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "auth without issuer", env: map[string]string{"AUTH_ENABLED": "true"}},
		{name: "unknown store", env: map[string]string{"STORE_DRIVER": "sqlite"}},
		{name: "unknown fanout", env: map[string]string{"FANOUT_DRIVER": "nats"}},
		{name: "redis without addr", env: map[string]string{"FANOUT_DRIVER": "redis", "REDIS_ADDR": " "}},
		{name: "zero buffer", env: map[string]string{"SUBSCRIBER_BUFFER": "0"}},
		{name: "zero heartbeat", env: map[string]string{"STREAM_HEARTBEAT": "0s"}},
		{name: "short relay lock", env: map[string]string{"FANOUT_DRIVER": "redis", "CHANGEFEED_RELAY_LOCK_TTL": "100ms"}},
		{name: "negative cache", env: map[string]string{"PARTICIPANT_CACHE_SIZE": "-1"}},
		{name: "local fanout without listener", env: map[string]string{"CHANGEFEED_RELAY": "false"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
