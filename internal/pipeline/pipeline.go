// Package pipeline implements the stage functions shared by cmd/pt and
// internal/mcpserver: scan, infer-and-plan, execute, and status. Both
// surfaces call these same session-store-mediated functions, so a human
// running a CLI subcommand and an agent calling an MCP tool against the
// same session produce byte-identical artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proctriage/internal/collect"
	"proctriage/internal/config"
	"proctriage/internal/decision"
	"proctriage/internal/features"
	"proctriage/internal/inference"
	"proctriage/internal/logging"
	"proctriage/internal/procfs"
	"proctriage/internal/session"
)

// ErrProcNotReadable is returned when the capabilities manifest asserts
// /proc is not readable at all: there is nothing a scan can do without it,
// and the failure is a capability problem rather than a general one.
var ErrProcNotReadable = errors.New("capabilities manifest asserts /proc is not readable")

// Dependencies bundles every configuration document and derived input a
// stage function needs. One value is built once per invocation (from the
// resolved capabilities/priors/policy/redaction documents) and threaded
// through every stage the CLI or MCP surface runs against a session.
type Dependencies struct {
	Capabilities config.Capabilities
	Priors       config.Priors
	Policy       config.Policy
	Redaction    config.RedactionPolicy
	Signatures   []features.Signature
	OperatorUID  int // the uid the CLI/MCP process itself runs as, for the privilege gate
}

// planFDRMethod is the e-value selection rule this repository always uses.
// e-BH assumes PRDS dependence among candidates; process-triage evidence
// terms share host-level signals (load, uptime) so candidates are
// positively correlated rather than adversarially dependent, which is
// exactly e-BH's assumption. There is no configuration knob for this
// because spec.md's Policy document does not expose one.
const planFDRMethod = decision.FDRMethodEBH

var pipelineLogger = logging.New("pipeline")

func emit(sess *session.Session, kind string, stage session.StageName, fields map[string]any) {
	_ = sess.AppendEvent(session.Event{
		Timestamp: time.Now(),
		SessionID: sess.Metadata.SessionID,
		RunID:     sess.Metadata.LastRunID,
		Stage:     stage,
		Kind:      kind,
		Fields:    fields,
	})
}

// ScanResult is what Scan hands back to its caller, in addition to what it
// publishes to the session store.
type ScanResult struct {
	Quick       procfs.Snapshot
	Deep        procfs.Snapshot // equals Quick when DeepSkipped
	DeepSkipped bool
	Admitted    int
}

// Scan runs the quick scan, provisionally classifies its candidates to find
// which ones clear the deep-scan admission threshold (spec.md §4.1, "after
// the quick scan yields at least one candidate ranked above a minimum
// posterior threshold"), and runs the deep scan over only those. Both
// stages are published unconditionally: when no candidate is admitted, the
// deep-scan stage is still published (as a pass-through of the quick
// snapshot) so Resume never stalls waiting on a stage that will never run.
func Scan(ctx context.Context, sess *session.Session, deps Dependencies) (ScanResult, error) {
	if !deps.Capabilities.ProcReadable {
		return ScanResult{}, ErrProcNotReadable
	}
	collector := collect.New(deps.Capabilities)

	quick, err := collector.Quick(ctx, collect.Options{})
	if err != nil {
		return ScanResult{}, fmt.Errorf("pipeline: quick scan: %w", err)
	}
	if err := sess.PublishStage(session.StageScanQuick, session.RedactSnapshot(quick, deps.Redaction)); err != nil {
		return ScanResult{}, fmt.Errorf("pipeline: publish scan_quick: %w", err)
	}
	emit(sess, "stage_completed", session.StageScanQuick, map[string]any{"candidates": len(quick.Samples)})

	admittedSamples, admittedIdx, err := admitForDeepScan(quick, deps)
	if err != nil {
		return ScanResult{}, fmt.Errorf("pipeline: quick-scan admission classify: %w", err)
	}
	if len(admittedSamples) == 0 {
		if err := sess.PublishStage(session.StageScanDeep, session.RedactSnapshot(quick, deps.Redaction)); err != nil {
			return ScanResult{}, fmt.Errorf("pipeline: publish scan_deep: %w", err)
		}
		emit(sess, "stage_completed", session.StageScanDeep, map[string]any{"admitted": 0})
		return ScanResult{Quick: quick, Deep: quick, DeepSkipped: true}, nil
	}

	deepSamples, err := collector.Deep(ctx, quick.Host, admittedSamples, collect.Options{})
	if err != nil {
		return ScanResult{}, fmt.Errorf("pipeline: deep scan: %w", err)
	}

	deep := mergeDeepSamples(quick, admittedIdx, deepSamples)
	if err := sess.PublishStage(session.StageScanDeep, session.RedactSnapshot(deep, deps.Redaction)); err != nil {
		return ScanResult{}, fmt.Errorf("pipeline: publish scan_deep: %w", err)
	}
	emit(sess, "stage_completed", session.StageScanDeep, map[string]any{"admitted": len(admittedSamples)})
	return ScanResult{Quick: quick, Deep: deep, Admitted: len(admittedSamples)}, nil
}

// admitForDeepScan classifies every candidate from its quick-scan samples
// alone and returns the latest sample of each candidate whose non-useful
// posterior mass clears policy.ConfidenceFloor.MinPosterior, alongside its
// index into snap.Samples.
func admitForDeepScan(snap procfs.Snapshot, deps Dependencies) ([]procfs.ProcessSample, []int, error) {
	classifier := inference.NewClassifier(inference.NewEngine(deps.Priors), deps.Signatures)
	outcomes, err := classifier.ClassifyAll(context.Background(), snap.Host, snap.Samples, nil, 0)
	if err != nil {
		return nil, nil, err
	}

	threshold := deps.Policy.ConfidenceFloor.MinPosterior
	var candidates []procfs.ProcessSample
	var idx []int
	for i, outcome := range outcomes {
		if len(snap.Samples[i]) == 0 {
			continue
		}
		nonUseful := 1 - outcome.Result.ClassProbs[config.ClassUseful]
		if nonUseful >= threshold {
			candidates = append(candidates, snap.Samples[i][len(snap.Samples[i])-1])
			idx = append(idx, i)
		}
	}
	return candidates, idx, nil
}

// mergeDeepSamples replaces each admitted candidate's latest quick-scan
// sample with its deep-scan-augmented counterpart, leaving every other
// candidate's series untouched.
func mergeDeepSamples(quick procfs.Snapshot, admittedIdx []int, deepSamples []procfs.ProcessSample) procfs.Snapshot {
	out := quick
	out.ScanProfile = string(collect.ProfileDeep)
	out.Samples = make([][]procfs.ProcessSample, len(quick.Samples))
	copy(out.Samples, quick.Samples)

	for k, idx := range admittedIdx {
		series := append([]procfs.ProcessSample{}, quick.Samples[idx]...)
		if len(series) == 0 {
			continue
		}
		series[len(series)-1] = deepSamples[k]
		out.Samples[idx] = series
	}
	return out
}
