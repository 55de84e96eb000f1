package main

import (
	"github.com/spf13/cobra"

	"proctriage/internal/logging"
	"proctriage/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP tool server over stdio for agent front-ends",
	Long: "Starts an MCP server over stdin/stdout exposing scan, infer_and_plan,\n" +
		"execute_plan, and session_status. The server monitors for parent process\n" +
		"death and self-terminates rather than accumulating as a zombie.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	srv := mcpserver.NewServer(sessionsRoot(), configPaths())
	defer srv.Shutdown()

	logging.New("pt-serve").Info("starting proctriage MCP server")
	return srv.Run(cmd.Context())
}
