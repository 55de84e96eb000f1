package mcpserver

import (
	"context"
	"fmt"

	"proctriage/internal/action"
	"proctriage/internal/pipeline"
	"proctriage/internal/session"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type scanInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"resume an existing session instead of creating one"`
}

type scanOutput struct {
	SessionID   string `json:"session_id"`
	Candidates  int    `json:"candidates"`
	Admitted    int    `json:"admitted"`
	DeepSkipped bool   `json:"deep_skipped"`
}

func (s *Server) handleScan(ctx context.Context, _ *sdkmcp.CallToolRequest, input scanInput) (*sdkmcp.CallToolResult, scanOutput, error) {
	rc, sess, err := s.resolve(input.SessionID)
	if err != nil {
		return nil, scanOutput{}, err
	}

	result, err := pipeline.Scan(ctx, sess, rc.Dependencies(s.OperatorUID))
	if err != nil {
		return nil, scanOutput{}, fmt.Errorf("scan: %w", err)
	}

	return nil, scanOutput{
		SessionID:   sess.Metadata.SessionID,
		Candidates:  len(result.Quick.Samples),
		Admitted:    result.Admitted,
		DeepSkipped: result.DeepSkipped,
	}, nil
}

type inferAndPlanInput struct {
	SessionID string `json:"session_id" jsonschema:"session id from scan"`
}

type planStepSummary struct {
	PID             int    `json:"pid"`
	Comm            string `json:"comm"`
	MAPClass        string `json:"map_class"`
	RequestedAction string `json:"requested_action"`
	SelectedAction  string `json:"selected_action"`
	GateAllowed     bool   `json:"gate_allowed"`
	GateReason      string `json:"gate_reason,omitempty"`
	FDRSelected     bool   `json:"fdr_selected"`
	Downgraded      bool   `json:"downgraded,omitempty"`
	DowngradeReason string `json:"downgrade_reason,omitempty"`
}

type inferAndPlanOutput struct {
	SessionID string            `json:"session_id"`
	Steps     []planStepSummary `json:"steps"`
}

func (s *Server) handleInferAndPlan(ctx context.Context, _ *sdkmcp.CallToolRequest, input inferAndPlanInput) (*sdkmcp.CallToolResult, inferAndPlanOutput, error) {
	rc, sess, err := s.resolve(input.SessionID)
	if err != nil {
		return nil, inferAndPlanOutput{}, err
	}

	plan, err := pipeline.InferAndPlan(ctx, sess, rc.Dependencies(s.OperatorUID))
	if err != nil {
		return nil, inferAndPlanOutput{}, fmt.Errorf("infer_and_plan: %w", err)
	}

	out := inferAndPlanOutput{SessionID: sess.Metadata.SessionID}
	for _, step := range plan.Steps {
		out.Steps = append(out.Steps, planStepSummary{
			PID:             step.PID,
			Comm:            step.Comm,
			MAPClass:        string(step.MAPClass),
			RequestedAction: string(step.RequestedAction),
			SelectedAction:  string(step.SelectedAction),
			GateAllowed:     step.GateVerdict.Allowed,
			GateReason:      step.GateVerdict.Reason,
			FDRSelected:     step.FDRSelected,
			Downgraded:      step.Downgraded,
			DowngradeReason: step.DowngradeReason,
		})
	}
	return nil, out, nil
}

type executePlanInput struct {
	SessionID string `json:"session_id" jsonschema:"session id with a pending plan"`
	Confirm   bool   `json:"confirm" jsonschema:"must be true; this is the explicit approval gesture for destructive actions"`
}

type executePlanOutput struct {
	SessionID      string                  `json:"session_id"`
	Summary        pipeline.OutcomeSummary `json:"summary"`
	RequiresRescan bool                    `json:"requires_rescan,omitempty" jsonschema:"true if a step's identity check found the plan stale; scan and plan again before trusting anything left in it"`
}

func (s *Server) handleExecutePlan(ctx context.Context, _ *sdkmcp.CallToolRequest, input executePlanInput) (*sdkmcp.CallToolResult, executePlanOutput, error) {
	rc, sess, err := s.resolve(input.SessionID)
	if err != nil {
		return nil, executePlanOutput{}, err
	}

	outcomes, summary, err := pipeline.Execute(ctx, sess, rc.Dependencies(s.OperatorUID), pipeline.DefaultLockPath(s.SessionsRoot), input.Confirm)
	if err != nil {
		return nil, executePlanOutput{}, fmt.Errorf("execute_plan: %w", err)
	}

	var rescan bool
	for _, out := range outcomes {
		if out.Reason == action.SkipIdentityMismatch {
			rescan = true
			break
		}
	}

	return nil, executePlanOutput{SessionID: sess.Metadata.SessionID, Summary: summary, RequiresRescan: rescan}, nil
}

type sessionStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"session id to report on"`
}

func (s *Server) handleSessionStatus(_ context.Context, _ *sdkmcp.CallToolRequest, input sessionStatusInput) (*sdkmcp.CallToolResult, pipeline.Status, error) {
	sess, err := pipeline.PeekSession(s.SessionsRoot, input.SessionID)
	if err != nil {
		return nil, pipeline.Status{}, fmt.Errorf("session_status: %w", err)
	}
	return nil, pipeline.ReportStatus(sess), nil
}

// resolve loads configuration and opens (or resumes) a session in one step,
// the same lookup every tool handler needs before delegating to internal/pipeline.
func (s *Server) resolve(sessionID string) (pipeline.ResolvedConfig, *session.Session, error) {
	rc, err := pipeline.ResolveConfig(s.ConfigPaths, nil)
	if err != nil {
		return pipeline.ResolvedConfig{}, nil, err
	}
	sess, err := pipeline.OpenSession(s.SessionsRoot, sessionID, rc)
	if err != nil {
		return pipeline.ResolvedConfig{}, nil, err
	}
	return rc, sess, nil
}
