// Package mcpserver exposes the pipeline's stage functions as MCP tools, so
// an agent front-end can drive scan/infer_and_plan/execute_plan/session_status
// the same way a human drives the pt subcommands (spec.md §6.A). Every tool
// handler delegates to internal/pipeline; this package holds no pipeline
// logic of its own, only argument decoding and session lookup.
package mcpserver

import (
	"context"
	"log/slog"
	"os"

	"proctriage/internal/logging"
	"proctriage/internal/pipeline"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server with the session root and config paths
// every tool call resolves against.
type Server struct {
	MCPServer    *sdkmcp.Server
	SessionsRoot string
	ConfigPaths  pipeline.ConfigPaths
	OperatorUID  int

	logger *slog.Logger
}

// NewServer creates an MCP server exposing the four process-triage tools.
// sessionsRoot is where session directories are created/resumed from;
// configPaths carries the --capabilities/--priors/--policy/--redaction/
// --signatures flag overrides the CLI's root command also accepts.
func NewServer(sessionsRoot string, configPaths pipeline.ConfigPaths) *Server {
	if sessionsRoot == "" {
		sessionsRoot = pipeline.DefaultSessionsRoot()
	}
	s := &Server{
		SessionsRoot: sessionsRoot,
		ConfigPaths:  configPaths,
		OperatorUID:  os.Getuid(),
		logger:       logging.New("mcpserver"),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "proctriage", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "scan",
		Description: "Run a quick process scan, and a deep scan over any candidate it admits, creating or resuming a session. Returns the session id and candidate count.",
	}, s.handleScan)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "infer_and_plan",
		Description: "Classify a session's scanned candidates and build a safety-gated action plan. Returns the plan summary and gate reasons per candidate.",
	}, s.handleInferAndPlan)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "execute_plan",
		Description: "Execute a session's pending plan under the host lock. Requires confirm=true; this is the approval gesture an agent performs on the human's behalf.",
	}, s.handleExecutePlan)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "session_status",
		Description: "Report a session's lifecycle state and per-stage artifact presence, for polling or resume.",
	}, s.handleSessionStatus)
}

// Shutdown is a no-op placeholder for symmetry with cmd/pt's defer pattern;
// the server holds no long-lived resources of its own beyond the SDK
// server, which Run's own context cancellation already tears down.
func (s *Server) Shutdown() {}

// Run starts the MCP server over stdio, watching for parent-process death so
// the server never outlives the client that spawned it.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	WatchParent(ctx, s.logger, cancel)

	s.logger.Info("starting proctriage MCP server over stdio", "sessions_root", s.SessionsRoot)
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
