package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
general_params:
  env: test
  secret_key: s3cr3t
sync_params:
  docstore_driver: memory
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cm, err := NewConfigManager(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.Equal(t, "test", cfg.GeneralParams.Env)
	assert.Equal(t, "0.0.0.0:8080", cfg.HttpServerParams.GetAddress())
	assert.Equal(t, []string{"*"}, cfg.HttpServerParams.AllowedOrigins)
	assert.Equal(t, 50, cfg.SyncParams.CacheCapacity)
	assert.Equal(t, 500, cfg.SyncParams.BatchLimit)
	assert.True(t, cfg.SyncParams.MarkReadOnList)
	assert.False(t, cfg.SyncParams.PermissiveMissingMembers)
	assert.Equal(t, 5*time.Second, cfg.SyncParams.DBTimeout)
	assert.False(t, cfg.S3Params.Enabled())
	assert.Empty(t, cfg.RedisParams.URL)

	assert.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("APP_SYNC_PARAMS_CACHE_CAPACITY", "10")
	t.Setenv("APP_REDIS_PARAMS_URL", "redis://cache:6379/1")

	cm, err := NewConfigManager(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 10, cm.GetConfig().SyncParams.CacheCapacity)
	assert.Equal(t, "redis://cache:6379/1", cm.GetConfig().RedisParams.URL)
}

func TestMissingFile(t *testing.T) {
	_, err := NewConfigManager(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	db := MainDBParams{Username: "u", Password: "p", Host: "db", Port: 5432, Name: "mapchat", Timeout: 3}
	assert.Equal(t, "postgres://u:p@db:5432/mapchat?connect_timeout=3&sslmode=disable", db.GetDSN())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GeneralParams:    GeneralParams{Env: "prod", SecretKey: "k"},
			HttpServerParams: HttpServerParams{Address: "0.0.0.0", Port: "8080"},
			MainDBParams:     MainDBParams{Host: "db", Username: "u", Password: "p", Port: 5432},
			S3Params: S3Params{
				Endpoint:        "minio:9000",
				AccessKeyID:     "a",
				SecretAccessKey: "s",
				BucketName:      "b",
				URLExpiry:       time.Hour,
			},
			SyncParams: SyncParams{
				DocstoreDriver: "postgres",
				CacheCapacity:  50,
				BatchLimit:     500,
				QueueWorkers:   2,
				QueueSize:      16,
				DBTimeout:      time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.GeneralParams.SecretKey = "" }, "secret_key"},
		{"bad env", func(c *Config) { c.GeneralParams.Env = "staging" }, "env parameter"},
		{"bad driver", func(c *Config) { c.SyncParams.DocstoreDriver = "firestore" }, "docstore_driver"},
		{"batch over ceiling", func(c *Config) { c.SyncParams.BatchLimit = 501 }, "batch_limit"},
		{"zero cache", func(c *Config) { c.SyncParams.CacheCapacity = 0 }, "cache_capacity"},
		{"postgres without host", func(c *Config) { c.MainDBParams.Host = "" }, "host"},
		{"memory without db", func(c *Config) {
			c.SyncParams.DocstoreDriver = "memory"
			c.MainDBParams = MainDBParams{}
		}, ""},
		{"s3 without bucket", func(c *Config) { c.S3Params.BucketName = "" }, "bucket"},
		{"s3 disabled", func(c *Config) { c.S3Params = S3Params{} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
