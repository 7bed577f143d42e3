package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORE_DRIVER", "KAFKA_BROKERS", "REQUEST_TIMEOUT", "REDIS_ENABLED", "PROJECTOR_WORKERS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 8, cfg.ProjectorWorkers)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/orders.db")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("REQUEST_TIMEOUT", "750ms")
	t.Setenv("POSTGRES_MAX_CONNS", "4")
	t.Setenv("PROJECTOR_WORKERS", "not-a-number")

	cfg := Load()
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/orders.db", cfg.SQLitePath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
	assert.EqualValues(t, 4, cfg.PostgresMaxConns)
	assert.Equal(t, 8, cfg.ProjectorWorkers)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := Config{StoreDriver: DriverPostgres, PostgresDSN: "postgres://x", PostgresMaxConns: 1}

	bad := base
	bad.StoreDriver = "mysql"
	assert.ErrorContains(t, bad.Validate(), "unknown STORE_DRIVER")

	bad = base
	bad.KafkaEnabled = true
	assert.ErrorContains(t, bad.Validate(), "KAFKA_BROKERS")

	bad = base
	bad.StoreDriver = DriverSQLite
	assert.ErrorContains(t, bad.Validate(), "SQLITE_PATH")

	assert.NoError(t, base.Validate())
}
