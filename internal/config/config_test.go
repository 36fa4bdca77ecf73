package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SERVICE_NAME", "RUN_ONCE_TABLE", "ORDERS_TABLE",
		"ORDERS_QUEUE_URL", "LEASE_TTL", "METRICS_NAMESPACE", "LISTEN_ADDR",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "orderflow", cfg.ServiceName)
	assert.Equal(t, "run_once_record", cfg.RunOnceTable)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTTL.Std())
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("service_name: payments\nrun_once_table: payments_run_once\nlease_ttl: 30s\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "payments", cfg.ServiceName)
	assert.Equal(t, "payments_run_once", cfg.RunOnceTable)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL.Std())
	// untouched keys keep their defaults
	assert.Equal(t, "orders", cfg.OrdersTable)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orders_table: from_file\n"), 0o600))

	t.Setenv("ORDERS_TABLE", "from_env")
	t.Setenv("LEASE_TTL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.OrdersTable)
	assert.Equal(t, 90*time.Second, cfg.LeaseTTL.Std())
}

func TestMissingFileFallsBack(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "orderflow", cfg.ServiceName)
}
