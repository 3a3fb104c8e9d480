package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"CURATION_ADDR", "STORE_BACKEND", "KAFKA_BROKERS", "TX_TIMEOUT", "SLOT_CLAIM_ATTEMPTS", "JWT_SIGNING_KEY"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "curation.audit", cfg.Kafka.AuditTopic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, 3, cfg.Workflow.SlotClaimAttempts)
	assert.Equal(t, 5*time.Second, cfg.Workflow.TxTimeout)
	assert.NotEmpty(t, cfg.JWTSigningKey)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendPostgres)
	t.Setenv("DATABASE_URL", "postgres://localhost/curation")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TX_TIMEOUT", "250ms")
	t.Setenv("SLOT_CLAIM_ATTEMPTS", "5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Workflow.TxTimeout)
	assert.Equal(t, 5, cfg.Workflow.SlotClaimAttempts)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "mongo"}, "unknown STORE_BACKEND"},
		{"postgres without url", map[string]string{"STORE_BACKEND": BackendPostgres, "DATABASE_URL": ""}, "DATABASE_URL is required"},
		{"redis without url", map[string]string{"STORE_BACKEND": BackendRedis, "REDIS_URL": ""}, "REDIS_URL is required"},
		{"bad duration", map[string]string{"STORE_BACKEND": "", "TX_TIMEOUT": "soon"}, "TX_TIMEOUT"},
		{"bad int", map[string]string{"STORE_BACKEND": "", "OUTBOX_BATCH_SIZE": "many"}, "OUTBOX_BATCH_SIZE"},
		{"zero attempts", map[string]string{"STORE_BACKEND": "", "SLOT_CLAIM_ATTEMPTS": "0"}, "SLOT_CLAIM_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
