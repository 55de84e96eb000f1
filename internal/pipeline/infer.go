package pipeline

import (
	"context"
	"fmt"
	"strings"

	"proctriage/internal/config"
	"proctriage/internal/decision"
	"proctriage/internal/inference"
	"proctriage/internal/procfs"
	"proctriage/internal/session"
)

// InferenceArtifact is what gets published to the session's inference.json:
// every candidate's derived feature bundle and posterior result, plus the
// host context they were computed against.
type InferenceArtifact struct {
	Host     procfs.HostContext           `json:"host"`
	Outcomes []inference.CandidateOutcome `json:"outcomes"`
}

// Infer classifies every candidate in the session's most recent scan (deep
// if one ran, quick-only otherwise) and publishes the result as the
// inference stage. It reads whatever scan_deep published, since Scan always
// publishes that stage even when the deep scan itself was skipped for lack
// of an admitted candidate.
func Infer(ctx context.Context, sess *session.Session, deps Dependencies) (InferenceArtifact, error) {
	var snap procfs.Snapshot
	if err := sess.LoadStage(session.StageScanDeep, &snap); err != nil {
		return InferenceArtifact{}, fmt.Errorf("pipeline: load scan_deep: %w", err)
	}

	calibProbs, calibClasses := inference.BootstrapCalibrationSet(deps.Priors)
	engine := inference.NewEngine(deps.Priors)
	engine.Calibrator = inference.NewCalibrator(deps.Policy.ConformalAlpha, calibProbs, calibClasses)

	classifier := inference.NewClassifier(engine, deps.Signatures)
	outcomes, err := classifier.ClassifyAll(ctx, snap.Host, snap.Samples, nil, 0)
	if err != nil {
		return InferenceArtifact{}, fmt.Errorf("pipeline: classify: %w", err)
	}

	artifact := InferenceArtifact{Host: snap.Host, Outcomes: outcomes}
	if err := sess.PublishStage(session.StageInference, artifact); err != nil {
		return InferenceArtifact{}, fmt.Errorf("pipeline: publish inference: %w", err)
	}
	emit(sess, "stage_completed", session.StageInference, map[string]any{"candidates": len(outcomes)})
	return artifact, nil
}

// Plan builds the staged action plan (spec.md §4.4) against a session's
// most recently published inference artifact and scan_deep samples, and
// publishes it as the plan stage.
func Plan(ctx context.Context, sess *session.Session, deps Dependencies) (decision.Plan, error) {
	var snap procfs.Snapshot
	if err := sess.LoadStage(session.StageScanDeep, &snap); err != nil {
		return decision.Plan{}, fmt.Errorf("pipeline: load scan_deep: %w", err)
	}
	var artifact InferenceArtifact
	if err := sess.LoadStage(session.StageInference, &artifact); err != nil {
		return decision.Plan{}, fmt.Errorf("pipeline: load inference: %w", err)
	}

	candidates := make([]decision.CandidateContext, 0, len(artifact.Outcomes))
	for i, outcome := range artifact.Outcomes {
		if len(snap.Samples[i]) == 0 {
			continue
		}
		latest := snap.Samples[i][len(snap.Samples[i])-1]
		candidates = append(candidates, decision.CandidateContext{
			Identity:             latest.Identity,
			Comm:                 latest.Comm,
			OperatorUID:          deps.OperatorUID,
			Bundle:               outcome.Bundle,
			Result:               outcome.Result,
			InTmuxOrScreen:       inMultiplexerSession(latest.Env),
			SupervisorAttributed: latest.SupervisorKind != "" && !latest.Degraded,
		})
	}

	wealth := loadPersistedWealth(sess, deps.Policy.FDR)
	builder := decision.NewBuilder(deps.Policy, planFDRMethod, wealth)
	plan := builder.Build(candidates)

	if err := sess.PublishStage(session.StagePlan, plan); err != nil {
		return decision.Plan{}, fmt.Errorf("pipeline: publish plan: %w", err)
	}
	terminates := 0
	for _, step := range plan.Steps {
		if step.SelectedAction == config.ActionTerminate {
			terminates++
		}
	}
	emit(sess, "stage_completed", session.StagePlan, map[string]any{"steps": len(plan.Steps), "terminates": terminates})

	if err := sess.Transition(session.StatePending); err != nil {
		pipelineLogger.Warn("session transition to pending failed", "session", sess.Metadata.SessionID, "error", err)
	}

	return plan, nil
}

// InferAndPlan runs Infer followed by Plan, for callers (the MCP tool, `pt
// run`) that always want both stages advanced together.
func InferAndPlan(ctx context.Context, sess *session.Session, deps Dependencies) (decision.Plan, error) {
	if _, err := Infer(ctx, sess, deps); err != nil {
		return decision.Plan{}, err
	}
	return Plan(ctx, sess, deps)
}

// loadPersistedWealth recovers the alpha-investing wealth this session left
// off with, so the W <= 0 cutoff (spec.md §4.4) actually accumulates across
// repeated `pt run`/`pt plan` invocations against the same session rather
// than resetting to full wealth every time. A session that has never
// published a plan stage yet starts fresh; a published plan without this
// field reads back as a zero-valued wealth state, not a fresh one.
func loadPersistedWealth(sess *session.Session, fdr config.FDRConfig) decision.AlphaWealthState {
	policy := decision.AlphaInvestingPolicyFromConfig(fdr)
	var prior decision.Plan
	if err := sess.LoadStage(session.StagePlan, &prior); err != nil {
		return decision.NewAlphaWealthState(policy)
	}
	return prior.WealthAfter
}

// inMultiplexerSession reports whether env carries tmux's or GNU screen's
// own session marker (spec.md §4.4 "session-safety gate"). Env is only
// populated on deep-scan samples; a quick-scan-only candidate always
// reports false here, which is the conservative direction for a gate that
// exists to protect interactive work a signal shouldn't interrupt.
func inMultiplexerSession(env []string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, "TMUX=") || strings.HasPrefix(kv, "STY=") {
			return true
		}
	}
	return false
}
