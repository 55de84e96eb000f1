package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctriage/internal/config"
	"proctriage/internal/pipeline"
	"proctriage/internal/session"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build the safety-gated action plan for a session's classified candidates",
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, _ []string) error {
	if rootFlags.sessionID == "" {
		return &configError{operation: "plan", cause: fmt.Errorf("--session is required")}
	}
	rc, err := pipeline.ResolveConfig(configPaths(), cmd.InOrStdin())
	if err != nil {
		return newConfigError("resolve configuration", err)
	}
	sess, err := session.Resume(sessionsRoot(), rootFlags.sessionID)
	if err != nil {
		return err
	}

	plan, err := pipeline.Plan(cmd.Context(), sess, rc.Dependencies(operatorUID()))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	requested, selected := 0, 0
	for _, step := range plan.Steps {
		fmt.Fprintf(out, "pid=%d comm=%q class=%s requested=%s selected=%s gate_allowed=%v\n",
			step.PID, step.Comm, step.MAPClass, step.RequestedAction, step.SelectedAction, step.GateVerdict.Allowed)
		if step.RequestedAction == config.ActionTerminate {
			requested++
		}
		if step.SelectedAction == config.ActionTerminate {
			selected++
		}
	}
	fmt.Fprintf(out, "%d step(s), %d selected for termination\n", len(plan.Steps), selected)

	if requested > 0 && selected == 0 {
		return &safetyGateBlockedError{}
	}
	return nil
}
