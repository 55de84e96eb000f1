package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctriage/internal/config"
	"proctriage/internal/pipeline"
	"proctriage/internal/session"
)

var resumeFlags struct {
	sessionID string
	confirm   bool
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an existing session from its next incomplete stage",
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFlags.sessionID, "session", "", "session id to resume (required)")
	resumeCmd.Flags().BoolVar(&resumeFlags.confirm, "confirm", false, "also execute the resulting plan, if execution is the next stage")
	_ = resumeCmd.MarkFlagRequired("session")
}

func runResume(cmd *cobra.Command, _ []string) error {
	rc, err := pipeline.ResolveConfig(configPaths(), cmd.InOrStdin())
	if err != nil {
		return newConfigError("resolve configuration", err)
	}
	sess, err := session.Resume(sessionsRoot(), resumeFlags.sessionID)
	if err != nil {
		return err
	}
	deps := rc.Dependencies(operatorUID())
	out := cmd.OutOrStdout()

	next := sess.Resume()
	fmt.Fprintf(out, "session: %s (resuming at %s)\n", sess.Metadata.SessionID, next)

	switch next {
	case session.StageScanQuick, session.StageScanDeep:
		if _, err := pipeline.Scan(cmd.Context(), sess, deps); err != nil {
			return err
		}
		fallthrough
	case session.StageInference, session.StagePlan:
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
		if !resumeFlags.confirm {
			return nil
		}
		fallthrough
	case session.StageExecution, session.StageOutcomes:
		lockPath := pipeline.DefaultLockPath(sessionsRoot())
		_, summary, err := pipeline.Execute(cmd.Context(), sess, deps, lockPath, true)
		if err != nil {
			return err
		}
		printSummary(cmd, summary)
		if summary.Failed > 0 {
			return &partialFailureError{failed: summary.Failed}
		}
	}
	return nil
}
