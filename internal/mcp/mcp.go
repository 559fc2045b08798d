// Package mcp exposes the tool runtime over the Model Context Protocol.
//
// Every manifest in the registry becomes one MCP tool. Calls are routed
// through the full execution gate, so MCP clients get the same journaling,
// permission checks, and policy enforcement as embedded callers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/torii/internal/ctxutil"
	"github.com/ashita-ai/torii/internal/executor"
	"github.com/ashita-ai/torii/internal/model"
	"github.com/ashita-ai/torii/internal/registry"
)

// fallbackSession labels events from MCP clients that carry no session id.
const fallbackSession = "mcp"

// Server wraps the tool runtime behind an MCP server.
type Server struct {
	mcpServer *mcpserver.MCPServer
	runtime   *executor.Runtime
	registry  *registry.Registry
	mode      model.ExecutionMode
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithMode sets the execution mode for all MCP-originated calls. Defaults to
// real execution; mock is useful for serving fixtures to agents under test.
func WithMode(mode model.ExecutionMode) Option {
	return func(s *Server) { s.mode = mode }
}

// New creates an MCP server exposing every tool currently in the registry.
func New(rt *executor.Runtime, reg *registry.Registry, version string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runtime:  rt,
		registry: reg,
		mode:     model.ModeReal,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"torii",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	for _, m := range s.registry.List() {
		schema, err := json.Marshal(m.InputSchema)
		if err != nil || len(m.InputSchema) == 0 {
			schema = []byte(`{"type":"object"}`)
		}
		s.mcpServer.AddTool(
			mcplib.NewToolWithRawSchema(m.Name, m.Description, schema),
			s.handlerFor(m.Name),
		)
	}
}

func (s *Server) handlerFor(toolName string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		sessionID := ctxutil.SessionID(ctx)
		if sessionID == "" {
			sessionID = fallbackSession
		}

		result, err := s.runtime.Execute(ctx, model.ToolExecutionRequest{
			RequestID: request.GetString("_request_id", newRequestID()),
			ToolName:  toolName,
			Input:     request.GetArguments(),
			Mode:      s.mode,
			SessionID: sessionID,
			StepID:    ctxutil.StepID(ctx),
		})
		if err != nil {
			// Journal failure: the call may have run but is unrecorded.
			s.logger.Error("mcp call could not be journaled", "tool", toolName, "error", err)
			return errorResult(fmt.Sprintf("internal error: %v", err)), nil
		}
		if !result.OK {
			return errorResult(fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message)), nil
		}

		resultData, merr := json.MarshalIndent(result.Result, "", "  ")
		if merr != nil {
			return errorResult(fmt.Sprintf("unencodable result: %v", merr)), nil
		}
		return &mcplib.CallToolResult{
			Content: []mcplib.Content{
				mcplib.TextContent{Type: "text", Text: string(resultData)},
			},
		}, nil
	}
}

func newRequestID() string {
	return uuid.NewString()
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
