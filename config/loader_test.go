// Loader and default-config tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Default config tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 30*time.Second, cfg.Plane.RouteTimeout)
	assert.Equal(t, 20*time.Second, cfg.Plane.ConsensusTimeout)
	assert.Equal(t, 60*time.Second, cfg.Plane.Admission.WindowLength)
	assert.Equal(t, 100, cfg.Plane.Admission.MaxRequests)
	assert.Equal(t, 20, cfg.Plane.Admission.Burst)
	assert.Equal(t, 10*time.Second, cfg.Plane.Health.TickInterval)
	assert.Equal(t, 60*time.Second, cfg.Plane.Health.OfflineThreshold)
	assert.Equal(t, 0.98, cfg.Plane.Health.DecayMultiplicative)
	assert.Equal(t, 0.01, cfg.Plane.Health.DecayAdditive)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "hearthctl", cfg.Telemetry.ServiceName)
}

// --- Loader tests ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 100, cfg.Plane.Admission.MaxRequests)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

plane:
  route_timeout: 45s
  admission:
    window_length: 30s
    max_requests: 50
    burst: 10

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 45*time.Second, cfg.Plane.RouteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Plane.Admission.WindowLength)
	assert.Equal(t, 50, cfg.Plane.Admission.MaxRequests)
	assert.Equal(t, 10, cfg.Plane.Admission.Burst)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"HEARTHCTL_SERVER_HTTP_PORT":          "7777",
		"HEARTHCTL_SERVER_METRICS_PORT":       "7778",
		"HEARTHCTL_PLANE_ROUTE_TIMEOUT":       "15s",
		"HEARTHCTL_PLANE_ADMISSION_MAX_REQUESTS": "15",
		"HEARTHCTL_LOG_LEVEL":                 "warn",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 7778, cfg.Server.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.Plane.RouteTimeout)
	assert.Equal(t, 15, cfg.Plane.Admission.MaxRequests)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
log:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	os.Setenv("HEARTHCTL_SERVER_HTTP_PORT", "9999")
	os.Setenv("HEARTHCTL_LOG_LEVEL", "error")
	defer func() {
		os.Unsetenv("HEARTHCTL_SERVER_HTTP_PORT")
		os.Unsetenv("HEARTHCTL_LOG_LEVEL")
	}()

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	defer os.Unsetenv("MYAPP_SERVER_HTTP_PORT")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("HEARTHCTL_SERVER_HTTP_PORT", "80")
	defer os.Unsetenv("HEARTHCTL_SERVER_HTTP_PORT")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config method tests ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid HTTP port (negative)",
			modify: func(c *Config) {
				c.Server.HTTPPort = -1
			},
			wantErr: true,
		},
		{
			name: "invalid HTTP port (too large)",
			modify: func(c *Config) {
				c.Server.HTTPPort = 70000
			},
			wantErr: true,
		},
		{
			name: "invalid admission max requests",
			modify: func(c *Config) {
				c.Plane.Admission.MaxRequests = 0
			},
			wantErr: true,
		},
		{
			name: "invalid admission burst",
			modify: func(c *Config) {
				c.Plane.Admission.Burst = 0
			},
			wantErr: true,
		},
		{
			name: "invalid decay multiplicative (negative)",
			modify: func(c *Config) {
				c.Plane.Health.DecayMultiplicative = -0.1
			},
			wantErr: true,
		},
		{
			name: "invalid decay multiplicative (too high)",
			modify: func(c *Config) {
				c.Plane.Health.DecayMultiplicative = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- MustLoad tests ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8080
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}
