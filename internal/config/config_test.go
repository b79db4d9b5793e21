package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, env(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"-d", "postgres://db.example/lf",
		"-k", "s3cret",
		"-a", ":9000",
		"-cloud-name", "demo",
		"-upload-preset", "unsigned",
		"-f", "poll",
		"-preview-ttl", "5m",
		"-workers", "2",
	}, env(nil), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db.example/lf", cfg.DatabaseURL)
	assert.Equal(t, "s3cret", cfg.DatabaseKey)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "demo", cfg.CloudName)
	assert.Equal(t, "unsigned", cfg.UploadPreset)
	assert.Equal(t, "poll", cfg.Feed)
	assert.Equal(t, Duration(5*time.Minute), cfg.PreviewTTL)
	assert.Equal(t, 2, cfg.Workers)
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lostfound.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"addr": ":7000",
		"cloud_name": "from-file",
		"upload_preset": "file-preset",
		"preview_ttl": "1h"
	}`), 0o600))

	cfg, err := Parse([]string{"-c", path, "-upload-preset", "flag-preset"}, env(map[string]string{
		EnvCloudName:    "from-env",
		EnvUploadPreset: "env-preset",
	}), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, ":7000", cfg.Addr, "file overrides default")
	assert.Equal(t, "from-env", cfg.CloudName, "env overrides file")
	assert.Equal(t, "flag-preset", cfg.UploadPreset, "flag overrides env")
	assert.Equal(t, Duration(time.Hour), cfg.PreviewTTL)
}

func TestConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"feed":"redis","redis_url":"redis://cache:6379/0"}`), 0o600))

	cfg, err := Parse(nil, env(map[string]string{EnvConfig: path}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Feed)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
}

func TestExplicitEmptyDatabase(t *testing.T) {
	cfg, err := Parse([]string{"-db", ""}, env(map[string]string{EnvDatabaseURL: "x.sqlite3"}), io.Discard)
	require.NoError(t, err)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]string{"-h"}, env(nil), io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))

	_, err = Parse([]string{"extra"}, env(nil), io.Discard)
	assert.ErrorContains(t, err, "unexpected argument")

	_, err = Parse([]string{"-c", filepath.Join(t.TempDir(), "missing.json")}, env(nil), io.Discard)
	assert.ErrorContains(t, err, "reading config file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"preview_ttl": 5}`), 0o600))
	_, err = Parse([]string{"-c", bad}, env(nil), io.Discard)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 1, "image host missing")

	cfg.DatabaseURL = ""
	warnings, err = cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 2)

	cfg.CloudName, cfg.UploadPreset = "demo", "preset"
	cfg.DatabaseURL = "x.sqlite3"
	warnings, err = cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)

	cfg.Feed = "carrier-pigeon"
	_, err = cfg.Validate()
	assert.Error(t, err)

	cfg.Feed = "redis"
	_, err = cfg.Validate()
	assert.ErrorContains(t, err, "redis URL")

	cfg.RedisURL = "redis://localhost:6379/0"
	_, err = cfg.Validate()
	assert.NoError(t, err)
}
