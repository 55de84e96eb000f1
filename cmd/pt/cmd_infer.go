package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctriage/internal/pipeline"
	"proctriage/internal/session"
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Classify a session's scanned candidates",
	RunE:  runInfer,
}

func runInfer(cmd *cobra.Command, _ []string) error {
	if rootFlags.sessionID == "" {
		return &configError{operation: "infer", cause: fmt.Errorf("--session is required")}
	}
	rc, err := pipeline.ResolveConfig(configPaths(), cmd.InOrStdin())
	if err != nil {
		return newConfigError("resolve configuration", err)
	}
	sess, err := session.Resume(sessionsRoot(), rootFlags.sessionID)
	if err != nil {
		return err
	}

	artifact, err := pipeline.Infer(cmd.Context(), sess, rc.Dependencies(operatorUID()))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "classified %d candidate(s)\n", len(artifact.Outcomes))
	return nil
}
