package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeConfigFile marshals the given document into config.yaml in a fresh
// working directory, so New picks it up the way a deployment would.
func writeConfigFile(t *testing.T, doc map[string]any) {
	t.Helper()
	dir := t.TempDir()
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644))
	t.Chdir(dir)
}

func TestNewDefaults(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.WSPort)
	assert.Equal(t, "off", cfg.Server.MCPTransport)
	assert.Equal(t, 8081, cfg.Server.MCPHTTPPort)

	assert.Equal(t, 30, cfg.Supervisor.SoftTimeoutSec)
	assert.Equal(t, 35, cfg.Supervisor.HardTimeoutSec)
	assert.Equal(t, 8, cfg.Supervisor.MaxSessions)
	assert.Equal(t, 3000, cfg.Supervisor.MaxCodeLength)
	assert.Equal(t, 60, cfg.Supervisor.MaxTimeoutOverrideSec)
	assert.Equal(t, 60, cfg.Supervisor.RetentionSec)

	assert.Equal(t, "python3", cfg.Python.Interpreter)
	assert.Equal(t, []string{"-u"}, cfg.Python.Args)

	assert.Equal(t, "production", cfg.Logging.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, 30*time.Second, cfg.SoftTimeout())
	assert.Equal(t, 35*time.Second, cfg.HardTimeout())
	assert.Equal(t, time.Minute, cfg.MaxTimeoutOverride())
	assert.Equal(t, time.Minute, cfg.Retention())
}

func TestNewFromFile(t *testing.T) {
	viper.Reset()
	writeConfigFile(t, map[string]any{
		"server": map[string]any{
			"ws_port":       9090,
			"mcp_transport": "http",
			"mcp_http_port": 9091,
		},
		"supervisor": map[string]any{
			"soft_timeout_sec": 10,
			"hard_timeout_sec": 12,
			"max_sessions":     2,
		},
		"python": map[string]any{
			"interpreter": "python3.12",
		},
		"logging": map[string]any{
			"mode":  "development",
			"level": "debug",
		},
	})

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.WSPort)
	assert.Equal(t, "http", cfg.Server.MCPTransport)
	assert.Equal(t, 9091, cfg.Server.MCPHTTPPort)
	assert.Equal(t, 10, cfg.Supervisor.SoftTimeoutSec)
	assert.Equal(t, 12, cfg.Supervisor.HardTimeoutSec)
	assert.Equal(t, 2, cfg.Supervisor.MaxSessions)
	assert.Equal(t, "python3.12", cfg.Python.Interpreter)
	assert.Equal(t, "development", cfg.Logging.Mode)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 3000, cfg.Supervisor.MaxCodeLength)
	assert.Equal(t, []string{"-u"}, cfg.Python.Args)
}

func TestNewRejectsInvalidFile(t *testing.T) {
	viper.Reset()
	writeConfigFile(t, map[string]any{
		"supervisor": map[string]any{
			// Hard deadline at or below the soft one leaves no grace window.
			"soft_timeout_sec": 30,
			"hard_timeout_sec": 30,
		},
	})

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard_timeout_sec")
}

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{
			WSPort:       8080,
			MCPTransport: "off",
			MCPHTTPPort:  8081,
		},
		Supervisor: SupervisorConfig{
			SoftTimeoutSec:        30,
			HardTimeoutSec:        35,
			MaxSessions:           8,
			MaxCodeLength:         3000,
			MaxTimeoutOverrideSec: 60,
			RetentionSec:          60,
		},
		Python: PythonConfig{
			Interpreter: "python3",
			Args:        []string{"-u"},
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validTestConfig().validate())
	})

	t.Run("HTTPTransportWithoutPort", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Server.MCPTransport = "http"
		cfg.Server.MCPHTTPPort = 0
		require.Error(t, cfg.validate())
	})

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"InvalidWSPort", func(c *Config) { c.Server.WSPort = 0 }, "ws_port"},
		{"WSPortTooHigh", func(c *Config) { c.Server.WSPort = 70000 }, "ws_port"},
		{"InvalidTransport", func(c *Config) { c.Server.MCPTransport = "grpc" }, "mcp_transport"},
		{"ZeroSoftTimeout", func(c *Config) { c.Supervisor.SoftTimeoutSec = 0 }, "soft_timeout_sec"},
		{"HardNotAboveSoft", func(c *Config) { c.Supervisor.HardTimeoutSec = 30 }, "hard_timeout_sec"},
		{"ZeroMaxSessions", func(c *Config) { c.Supervisor.MaxSessions = 0 }, "max_sessions"},
		{"ZeroMaxCodeLength", func(c *Config) { c.Supervisor.MaxCodeLength = 0 }, "max_code_length"},
		{"NegativeOverride", func(c *Config) { c.Supervisor.MaxTimeoutOverrideSec = -1 }, "max_timeout_override_sec"},
		{"NegativeRetention", func(c *Config) { c.Supervisor.RetentionSec = -1 }, "retention_sec"},
		{"EmptyInterpreter", func(c *Config) { c.Python.Interpreter = "" }, "interpreter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
