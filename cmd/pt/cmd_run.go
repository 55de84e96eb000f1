package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctriage/internal/config"
	"proctriage/internal/pipeline"
)

var runFlags struct {
	confirm bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Chain scan, infer, plan, and (with --confirm) execute in one invocation",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.confirm, "confirm", false, "also execute the resulting plan")
}

func runRun(cmd *cobra.Command, _ []string) error {
	rc, err := pipeline.ResolveConfig(configPaths(), cmd.InOrStdin())
	if err != nil {
		return newConfigError("resolve configuration", err)
	}
	sess, err := pipeline.OpenSession(sessionsRoot(), rootFlags.sessionID, rc)
	if err != nil {
		return err
	}
	deps := rc.Dependencies(operatorUID())
	out := cmd.OutOrStdout()

	scanResult, err := pipeline.Scan(cmd.Context(), sess, deps)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session: %s\n", sess.Metadata.SessionID)
	if scanResult.DeepSkipped {
		// Zero candidates cleared the confidence floor (spec.md §6, §8): no
		// actionable candidate exists to plan against, so no plan artifact is
		// published for this run.
		return &noCandidatesError{}
	}

	plan, err := pipeline.InferAndPlan(cmd.Context(), sess, deps)
	if err != nil {
		return err
	}
	requested, selected := 0, 0
	for _, step := range plan.Steps {
		if step.RequestedAction == config.ActionTerminate {
			requested++
		}
		if step.SelectedAction == config.ActionTerminate {
			selected++
		}
	}
	fmt.Fprintf(out, "%d step(s) planned, %d selected for termination\n", len(plan.Steps), selected)

	if requested > 0 && selected == 0 {
		return &safetyGateBlockedError{}
	}
	if !runFlags.confirm {
		fmt.Fprintf(out, "not executing (pass --confirm to dispatch the plan)\n")
		return nil
	}

	lockPath := pipeline.DefaultLockPath(sessionsRoot())
	_, summary, err := pipeline.Execute(cmd.Context(), sess, deps, lockPath, true)
	if err != nil {
		return err
	}
	printSummary(cmd, summary)
	if summary.Failed > 0 {
		return &partialFailureError{failed: summary.Failed}
	}
	return nil
}
