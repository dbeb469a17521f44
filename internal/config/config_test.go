package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with no inherited settings.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{
		APIKeyEnv, "RUBRICA_DB", "RUBRICA_API_KEY", "RUBRICA_MODEL",
		"RUBRICA_WORKERS", "RUBRICA_REQUEST_TIMEOUT", "RUBRICA_CONNECT_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestLoad_Precedence(t *testing.T) {
	dir := isolate(t)
	file := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"db": "from-file.db", "workers": 3, "request_timeout": "2m", "model": "file-model"}`), 0o600))
	t.Setenv("RUBRICA_WORKERS", "8")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.DB)
	assert.Equal(t, 8, cfg.Workers, "environment beats file")
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, "file-model", cfg.Model)
}

func TestLoad_DefaultFileIsOptional(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(`{"listen_addr": ":9000"}`), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
}

func TestLoad_NamedFileMustExist(t *testing.T) {
	isolate(t)
	_, err := Load("missing.json")
	assert.Error(t, err)
}

func TestLoad_APIKeySources(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotenvFile), []byte("ANTHROPIC_API_KEY=sk-from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv(APIKeyEnv) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-dotenv", cfg.APIKey)

	t.Setenv("RUBRICA_API_KEY", "sk-rubrica")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-rubrica", cfg.APIKey, "the prefixed variable wins")
}

func TestLoad_CapsRequestTimeout(t *testing.T) {
	isolate(t)
	t.Setenv("RUBRICA_REQUEST_TIMEOUT", "30m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no db", func(c *Config) { c.DB = "" }},
		{"no model", func(c *Config) { c.Model = "" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"connect above request", func(c *Config) { c.ConnectTimeout = 10 * time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestScorerConfig(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "sk-test"
	sc := cfg.Scorer(nil)
	assert.Equal(t, "sk-test", sc.APIKey)
	assert.Equal(t, cfg.Model, sc.Model)
	assert.Equal(t, cfg.RequestTimeout, sc.RequestTimeout)
}
