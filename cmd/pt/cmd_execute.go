package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"proctriage/internal/pipeline"
	"proctriage/internal/session"
)

var executeFlags struct {
	confirm bool
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a session's pending plan under the host lock",
	RunE:  runExecute,
}

func init() {
	executeCmd.Flags().BoolVar(&executeFlags.confirm, "confirm", false, "confirm destructive execution (required)")
}

func runExecute(cmd *cobra.Command, _ []string) error {
	if rootFlags.sessionID == "" {
		return &configError{operation: "execute", cause: fmt.Errorf("--session is required")}
	}
	rc, err := pipeline.ResolveConfig(configPaths(), cmd.InOrStdin())
	if err != nil {
		return newConfigError("resolve configuration", err)
	}
	sess, err := session.Resume(sessionsRoot(), rootFlags.sessionID)
	if err != nil {
		return err
	}

	lockPath := pipeline.DefaultLockPath(sessionsRoot())
	_, summary, err := pipeline.Execute(cmd.Context(), sess, rc.Dependencies(operatorUID()), lockPath, executeFlags.confirm)
	if err != nil {
		if strings.Contains(err.Error(), "acquire host lock") {
			return &lockBusyError{cause: err}
		}
		return err
	}

	printSummary(cmd, summary)
	if summary.Failed > 0 {
		return &partialFailureError{failed: summary.Failed}
	}
	return nil
}

func printSummary(cmd *cobra.Command, summary pipeline.OutcomeSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "candidates=%d attempted=%d succeeded=%d failed=%d\n",
		summary.TotalCandidates, summary.Attempted, summary.Succeeded, summary.Failed)
	fmt.Fprintf(out, "skipped: identity=%d privilege=%d data_loss=%d other_gate=%d\n",
		summary.SkippedIdentity, summary.SkippedPrivilege, summary.SkippedDataLoss, summary.SkippedOtherGate)
}
