package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Python     PythonConfig     `mapstructure:"python"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds transport configuration
type ServerConfig struct {
	WSPort       int    `mapstructure:"ws_port"`
	MCPTransport string `mapstructure:"mcp_transport"`
	MCPHTTPPort  int    `mapstructure:"mcp_http_port"`
}

// SupervisorConfig holds execution supervision parameters
type SupervisorConfig struct {
	SoftTimeoutSec        int `mapstructure:"soft_timeout_sec"`
	HardTimeoutSec        int `mapstructure:"hard_timeout_sec"`
	MaxSessions           int `mapstructure:"max_sessions"`
	MaxCodeLength         int `mapstructure:"max_code_length"`
	MaxTimeoutOverrideSec int `mapstructure:"max_timeout_override_sec"`
	RetentionSec          int `mapstructure:"retention_sec"`
}

// PythonConfig holds worker interpreter configuration
type PythonConfig struct {
	Interpreter string   `mapstructure:"interpreter"`
	Args        []string `mapstructure:"args"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.ws_port", 8080)
	viper.SetDefault("server.mcp_transport", "off")
	viper.SetDefault("server.mcp_http_port", 8081)

	// The 30s/35s pair gives a runaway script 30 seconds of budget and a
	// 5 second grace window between the cooperative stop and the kill.
	viper.SetDefault("supervisor.soft_timeout_sec", 30)
	viper.SetDefault("supervisor.hard_timeout_sec", 35)
	viper.SetDefault("supervisor.max_sessions", 8)
	viper.SetDefault("supervisor.max_code_length", 3000)
	viper.SetDefault("supervisor.max_timeout_override_sec", 60)
	viper.SetDefault("supervisor.retention_sec", 60)

	// -u keeps the interpreter's stdout unbuffered so output streams in
	// real time instead of arriving in one burst at exit.
	viper.SetDefault("python.interpreter", "python3")
	viper.SetDefault("python.args", []string{"-u"})

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.WSPort <= 0 || c.Server.WSPort > 65535 {
		return fmt.Errorf("invalid server.ws_port: %d", c.Server.WSPort)
	}

	switch c.Server.MCPTransport {
	case "off", "stdio", "http":
	default:
		return fmt.Errorf("invalid server.mcp_transport: %s, must be 'off', 'stdio' or 'http'", c.Server.MCPTransport)
	}

	if c.Server.MCPTransport == "http" && (c.Server.MCPHTTPPort <= 0 || c.Server.MCPHTTPPort > 65535) {
		return fmt.Errorf("invalid server.mcp_http_port: %d", c.Server.MCPHTTPPort)
	}

	if c.Supervisor.SoftTimeoutSec <= 0 {
		return fmt.Errorf("supervisor.soft_timeout_sec must be positive, got: %d", c.Supervisor.SoftTimeoutSec)
	}

	if c.Supervisor.HardTimeoutSec <= c.Supervisor.SoftTimeoutSec {
		return fmt.Errorf("supervisor.hard_timeout_sec (%d) must exceed supervisor.soft_timeout_sec (%d)",
			c.Supervisor.HardTimeoutSec, c.Supervisor.SoftTimeoutSec)
	}

	if c.Supervisor.MaxSessions <= 0 {
		return fmt.Errorf("supervisor.max_sessions must be positive, got: %d", c.Supervisor.MaxSessions)
	}

	if c.Supervisor.MaxCodeLength <= 0 {
		return fmt.Errorf("supervisor.max_code_length must be positive, got: %d", c.Supervisor.MaxCodeLength)
	}

	if c.Supervisor.MaxTimeoutOverrideSec < 0 {
		return fmt.Errorf("supervisor.max_timeout_override_sec must not be negative, got: %d", c.Supervisor.MaxTimeoutOverrideSec)
	}

	if c.Supervisor.RetentionSec < 0 {
		return fmt.Errorf("supervisor.retention_sec must not be negative, got: %d", c.Supervisor.RetentionSec)
	}

	if c.Python.Interpreter == "" {
		return fmt.Errorf("python.interpreter must not be empty")
	}

	return nil
}

// SoftTimeout returns the default soft deadline as a duration
func (c *Config) SoftTimeout() time.Duration {
	return time.Duration(c.Supervisor.SoftTimeoutSec) * time.Second
}

// HardTimeout returns the default hard deadline as a duration
func (c *Config) HardTimeout() time.Duration {
	return time.Duration(c.Supervisor.HardTimeoutSec) * time.Second
}

// MaxTimeoutOverride returns the override ceiling as a duration
func (c *Config) MaxTimeoutOverride() time.Duration {
	return time.Duration(c.Supervisor.MaxTimeoutOverrideSec) * time.Second
}

// Retention returns the terminal-session retention window as a duration
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Supervisor.RetentionSec) * time.Second
}
