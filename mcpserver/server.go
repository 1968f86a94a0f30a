package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/runbox-io/runbox/config"
	"github.com/runbox-io/runbox/supervisor"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	registry  *supervisor.Registry
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, registry *supervisor.Registry) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		registry: registry,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.Int("server.ws_port", s.config.Server.WSPort),
		zap.String("server.mcp_transport", s.config.Server.MCPTransport),
		zap.Int("server.mcp_http_port", s.config.Server.MCPHTTPPort),
		zap.Int("supervisor.soft_timeout_sec", s.config.Supervisor.SoftTimeoutSec),
		zap.Int("supervisor.hard_timeout_sec", s.config.Supervisor.HardTimeoutSec),
		zap.Int("supervisor.max_sessions", s.config.Supervisor.MaxSessions),
		zap.Int("supervisor.max_code_length", s.config.Supervisor.MaxCodeLength),
		zap.Int("supervisor.retention_sec", s.config.Supervisor.RetentionSec),
		zap.String("python.interpreter", s.config.Python.Interpreter),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("runbox", "1.0.0")

	// Register the run_python tool
	s.registerRunPythonTool()

	return s, nil
}

// registerRunPythonTool registers the run_python tool
func (s *MCPServer) registerRunPythonTool() {
	tool := mcp.Tool{
		Name:        "run_python",
		Description: "Run untrusted Python code under supervision and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"timeout_sec": map[string]any{
					"type":        "number",
					"description": "Optional soft timeout override in seconds",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunPython)
}

// handleRunPython handles the run_python tool. MCP tool calls are
// synchronous, so the handler creates a session, waits for its terminal
// state, and returns the replayed output in one response.
func (s *MCPServer) handleRunPython(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("code execution requested")

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	req := supervisor.Request{Code: code}
	if timeoutSec := request.GetFloat("timeout_sec", 0); timeoutSec > 0 {
		req.TimeoutOverride = time.Duration(timeoutSec * float64(time.Second))
	}

	id, err := s.registry.Create(req)
	if err != nil {
		s.logger.Error("session creation failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution rejected: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	sess, err := s.registry.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("session vanished before completion: %w", err)
	}

	state, err := sess.AwaitTerminal(ctx)
	if err != nil {
		// The tool call was abandoned; stop the worker rather than leaving
		// it running with nobody to collect the result.
		sess.Cancel()
		return nil, fmt.Errorf("waiting for execution: %w", err)
	}

	result := collectResult(sess.Events(), state)
	if ackErr := s.registry.Acknowledge(id); ackErr != nil {
		s.logger.Debug("acknowledge failed", zap.String("session_id", id), zap.Error(ackErr))
	}

	s.logger.Info("code execution finished",
		zap.String("session_id", id),
		zap.String("state", state.String()),
		zap.Int("stdout_len", len(result.stdout)),
		zap.Int("stderr_len", len(result.stderr)))

	resultJSON, err := result.encode(state)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultJSON,
			},
		},
		IsError: state == supervisor.StateFailed,
	}, nil
}

type runResult struct {
	stdout   string
	stderr   string
	exitCode int
	detail   string
}

// encode renders the result as the tool's JSON payload. Going through
// json.Marshal keeps the payload parseable even when the worker wrote raw
// non-UTF-8 bytes to its streams.
func (r runResult) encode(state supervisor.State) (string, error) {
	data, err := json.Marshal(struct {
		State    string `json:"state"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
		Detail   string `json:"detail"`
	}{
		State:    state.String(),
		Stdout:   r.stdout,
		Stderr:   r.stderr,
		ExitCode: r.exitCode,
		Detail:   r.detail,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// collectResult folds a session's event sequence into a buffered result.
func collectResult(events []supervisor.Event, state supervisor.State) runResult {
	var stdout, stderr strings.Builder
	res := runResult{exitCode: -1}

	for _, ev := range events {
		switch ev.Kind {
		case supervisor.EventStdout:
			stdout.WriteString(ev.Text)
		case supervisor.EventStderr:
			stderr.WriteString(ev.Text)
		case supervisor.EventCompleted:
			res.exitCode = ev.ExitCode
		case supervisor.EventTimedOut:
			res.detail = fmt.Sprintf("execution exceeded the %s deadline", ev.Deadline)
		case supervisor.EventFailed:
			res.detail = ev.Reason
		case supervisor.EventCancelled:
			res.detail = "execution cancelled"
		}
	}

	res.stdout = stdout.String()
	res.stderr = stderr.String()
	if state == supervisor.StateCompleted && res.detail == "" {
		res.detail = "ok"
	}
	return res
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.MCPHTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
