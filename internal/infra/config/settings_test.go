package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// clearEnv unsets every REPAIRDESK_* variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix) {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		envVars    map[string]string
		wantDriver string
		wantTTL    time.Duration
		wantPoll   time.Duration
		wantOrigin string
		wantSource string
	}{
		{
			name:       "Default values only",
			wantDriver: "sqlite",
			wantTTL:    72 * time.Hour,
			wantPoll:   5 * time.Second,
			wantOrigin: "http://localhost:8080",
			wantSource: "default",
		},
		{
			name: "Environment variables only",
			envVars: map[string]string{
				"REPAIRDESK_STORE_DRIVER":  "memory",
				"REPAIRDESK_TOKEN_TTL":     "24h",
				"REPAIRDESK_POLL_INTERVAL": "2",
			},
			wantDriver: "memory",
			wantTTL:    24 * time.Hour,
			wantPoll:   2 * time.Second,
			wantOrigin: "http://localhost:8080",
			wantSource: "env",
		},
		{
			name: "YAML file only",
			yaml: `
server:
  public_origin: https://shop.example.com
store:
  driver: postgres
  postgres_dsn: postgres://localhost/repairdesk
signature:
  token_ttl: 48h
  poll_interval: 10s
`,
			wantDriver: "postgres",
			wantTTL:    48 * time.Hour,
			wantPoll:   10 * time.Second,
			wantOrigin: "https://shop.example.com",
			wantSource: "yaml",
		},
		{
			name: "Environment overrides YAML",
			yaml: `
signature:
  token_ttl: 48h
`,
			envVars:    map[string]string{"REPAIRDESK_TOKEN_TTL": "1h"},
			wantDriver: "sqlite",
			wantTTL:    time.Hour,
			wantPoll:   5 * time.Second,
			wantOrigin: "http://localhost:8080",
			wantSource: "yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := ""
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "repairdesk.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := LoadSettings(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, cfg.Store().Driver)
			assert.Equal(t, tt.wantTTL, cfg.Signature().TokenTTL)
			assert.Equal(t, tt.wantPoll, cfg.Signature().PollInterval)
			assert.Equal(t, tt.wantOrigin, cfg.Server().PublicOrigin)
			assert.Equal(t, tt.wantSource, cfg.ConfigSource())
		})
	}
}

func TestLoadSettings_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store: [unclosed"), 0644))
	_, err = LoadSettings(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("store:\n  driver: mongo\narchive:\n  type: s3\n"), 0644))
	_, err = LoadSettings(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "archive.s3_bucket")

	good := filepath.Join(t.TempDir(), "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("log:\n  level: debug\n"), 0644))
	t.Setenv("REPAIRDESK_TOKEN_TTL", "soon")
	_, err = LoadSettings(good)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPAIRDESK_TOKEN_TTL")
}

func TestCreateDefaultSettings(t *testing.T) {
	var raw RawSettings
	require.NoError(t, yaml.Unmarshal(CreateDefaultSettings(), &raw))
	require.NotNil(t, raw.Signature.TokenTTL)
	assert.Equal(t, 72*time.Hour, *raw.Signature.TokenTTL)
	require.NotNil(t, raw.Store.Driver)
	assert.Equal(t, "sqlite", *raw.Store.Driver)
}
