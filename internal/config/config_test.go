package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, "./data", cfg.Blob.Root)
	assert.Equal(t, "https://www.sec.gov/include/ticker.txt", cfg.Ticker.Source)
	assert.Equal(t, "/tmp/secfin", cfg.Pipeline.TempDir)
	assert.Equal(t, 2, cfg.Pipeline.Concurrency)
	assert.Equal(t, 10000, cfg.Pipeline.BatchRows)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, "sec_json.financial_documents", cfg.Warehouse.Table)
	assert.Equal(t, "sqlite", cfg.RunLog.Driver)
	assert.Equal(t, "secfin", cfg.Temporal.TaskQueue)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 168, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 6, cfg.Monitoring.StaleAfterHours)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
blob:
  driver: minio
  endpoint: localhost:9000
  bucket: sec-data
log:
  level: debug
  format: console
pipeline:
  concurrency: 4
server:
  cors_origins:
    - https://dash.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.Blob.Driver)
	assert.Equal(t, "localhost:9000", cfg.Blob.Endpoint)
	assert.Equal(t, "sec-data", cfg.Blob.Bucket)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.Server.CORSOrigins)
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SECFIN_LOG_LEVEL", "warn")
	t.Setenv("SECFIN_BLOB_ROOT", "/srv/sec")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/srv/sec", cfg.Blob.Root)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECFIN_SERVER_PORT=3000\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SECFIN_SERVER_PORT") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Blob.Driver = "fs"
	cfg.Blob.Root = "./data"
	cfg.RunLog.Driver = "sqlite"
	cfg.Pipeline.Concurrency = 2
	cfg.Ticker.Source = "ticker.txt"
	cfg.Server.Port = 8080
	cfg.Temporal.HostPort = "localhost:7233"
	cfg.Temporal.TaskQueue = "secfin"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		mode    string
		wantErr []string
	}{
		{name: "pipeline ok", mode: "pipeline"},
		{name: "serve ok", mode: "serve"},
		{name: "worker ok", mode: "worker"},
		{
			name:    "unknown blob driver",
			mutate:  func(c *Config) { c.Blob.Driver = "s3" },
			mode:    "pipeline",
			wantErr: []string{`blob.driver "s3" is invalid`},
		},
		{
			name:    "minio missing endpoint and bucket",
			mutate:  func(c *Config) { c.Blob.Driver = "minio" },
			mode:    "pipeline",
			wantErr: []string{"blob.endpoint is required", "blob.bucket is required"},
		},
		{
			name:    "warehouse needs database url",
			mode:    "warehouse",
			wantErr: []string{"warehouse.database_url is required", "warehouse.table is required"},
		},
		{
			name:    "serve port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			mode:    "serve",
			wantErr: []string{"server.port 0 is out of range"},
		},
		{
			name:    "bad runlog driver",
			mutate:  func(c *Config) { c.RunLog.Driver = "mysql" },
			mode:    "pipeline",
			wantErr: []string{`runlog.driver "mysql" is invalid`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
