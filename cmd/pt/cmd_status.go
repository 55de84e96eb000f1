package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctriage/internal/pipeline"
	"proctriage/internal/session"
)

var statusFlags struct {
	sessionID string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a session's lifecycle state and per-stage artifact presence",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.sessionID, "session", "", "session id to report on (required)")
	_ = statusCmd.MarkFlagRequired("session")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	sess, err := pipeline.PeekSession(sessionsRoot(), statusFlags.sessionID)
	if err != nil {
		return err
	}

	st := pipeline.ReportStatus(sess)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session:    %s\n", st.SessionID)
	fmt.Fprintf(out, "state:      %s\n", st.State)
	fmt.Fprintf(out, "next stage: %s\n", st.NextStage)
	fmt.Fprintf(out, "done:       %v\n", st.Done)
	for _, stage := range session.StageOrder() {
		fmt.Fprintf(out, "  %-12s %v\n", stage, st.Stages[stage])
	}
	return nil
}
