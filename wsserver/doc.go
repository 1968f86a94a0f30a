// Package wsserver provides the WebSocket transport for code execution.
//
// The wsserver package exposes the /ws/python endpoint over which clients
// submit code and receive the execution's event stream in real time.
// Inbound messages are execute and stop commands; outbound messages mirror
// the supervisor's event sequence: execution_start, stdout, stderr, and
// exactly one of execution_complete, timeout, or error.
//
// The package also serves the root and /health endpoints for liveness
// checks.
package wsserver
