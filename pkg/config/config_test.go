package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.Scheduler.Tick)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, "pg_dump", cfg.PgBinary("pg_dump"))
}

func TestInitReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
server:
  addr: ":9999"
jobs:
  max_concurrent: 2
pg_bin_dir: /usr/lib/postgresql/16/bin
`), 0o600))
	t.Setenv("PGBM_JOBS_BACKUP_TIMEOUT", "15m")

	v := viper.New()
	require.NoError(t, Init(v, cfgFile))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.BackupTimeout)
	assert.Equal(t, "/usr/lib/postgresql/16/bin/pg_restore", cfg.PgBinary("pg_restore"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"no concurrency", func(c *Config) { c.Jobs.MaxConcurrent = 0 }},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"zero tick", func(c *Config) { c.Scheduler.Tick = 0 }},
		{"no staging", func(c *Config) { c.StagingDir = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			cfg, err := Load(v)
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
