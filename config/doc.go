// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers transport settings (the
// WebSocket port and the optional MCP transport), the supervision policy
// (soft/hard timeouts, session ceiling, retention), and the Python worker
// interpreter.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("soft timeout: %s\n", cfg.SoftTimeout())
package config
