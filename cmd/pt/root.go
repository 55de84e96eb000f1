// pt is the process-triage CLI: scan, infer, plan, execute, run, status,
// resume, and serve (the MCP tool server for agent front-ends).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proctriage/internal/logging"
	"proctriage/internal/pipeline"
)

var version = "dev"

var rootFlags struct {
	capabilitiesPath string
	priorsPath       string
	policyPath       string
	redactionPath    string
	signaturesPath   string
	sessionsRoot     string
	sessionID        string
	logLevel         string
	logFormat        string
}

var rootCmd = &cobra.Command{
	Use:   "pt",
	Short: "Identify and safely act on abandoned processes",
	Long: "Process Triage samples the process table, classifies candidates with a\n" +
		"Bayesian model, builds a safety-gated action plan, and executes it under\n" +
		"a per-host lock — all recorded to a resumable session directory.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logging.Init(logging.ParseLevel(rootFlags.logLevel), rootFlags.logFormat)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.capabilitiesPath, "capabilities", "", "path to the capabilities manifest (or \"-\" for stdin)")
	f.StringVar(&rootFlags.priorsPath, "priors", "", "path to the priors configuration document")
	f.StringVar(&rootFlags.policyPath, "policy", "", "path to the policy configuration document")
	f.StringVar(&rootFlags.redactionPath, "redaction", "", "path to the redaction policy document")
	f.StringVar(&rootFlags.signaturesPath, "signatures", "", "path to the process signature document")
	f.StringVar(&rootFlags.sessionsRoot, "sessions-root", "", "directory session directories are created under (default: XDG state dir)")
	f.StringVar(&rootFlags.sessionID, "session", "", "resume an existing session instead of creating one")
	f.StringVar(&rootFlags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&rootFlags.logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func configPaths() pipeline.ConfigPaths {
	return pipeline.ConfigPaths{
		Capabilities: rootFlags.capabilitiesPath,
		Priors:       rootFlags.priorsPath,
		Policy:       rootFlags.policyPath,
		Redaction:    rootFlags.redactionPath,
		Signatures:   rootFlags.signaturesPath,
	}
}

func sessionsRoot() string {
	if rootFlags.sessionsRoot != "" {
		return rootFlags.sessionsRoot
	}
	return pipeline.DefaultSessionsRoot()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
