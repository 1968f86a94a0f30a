// Package main is the entry point for the runbox execution server.
//
// The runbox server accepts untrusted Python code over a WebSocket
// connection, runs it in an isolated worker process under soft/hard timeout
// supervision, and streams stdout/stderr back as an ordered event stream.
// An optional MCP transport exposes the same supervisor as a synchronous
// run_python tool.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
