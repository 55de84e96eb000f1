package inference

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"proctriage/internal/collect"
	"proctriage/internal/features"
	"proctriage/internal/logging"
	"proctriage/internal/procfs"
)

// supervisorAttributionTable answers features.SupervisorLookup from a
// completed deep scan's samples: a candidate is attributed once its
// supervisor probe reported a non-empty kind, unknown when the sample never
// received a deep-scan probe at all (spec.md §4.2's orphan tri-state).
type supervisorAttributionTable struct {
	byPID map[int]procfs.ProcessSample
}

func newSupervisorAttributionTable(deepSamples []procfs.ProcessSample) supervisorAttributionTable {
	t := supervisorAttributionTable{byPID: make(map[int]procfs.ProcessSample, len(deepSamples))}
	for _, s := range deepSamples {
		t.byPID[s.Identity.PID] = s
	}
	return t
}

func (t supervisorAttributionTable) IsAttributed(pid int) (attributed bool, ok bool) {
	s, found := t.byPID[pid]
	if !found || s.Degraded {
		return false, false
	}
	return s.SupervisorKind != "", true
}

// Classifier runs feature derivation and posterior computation over every
// candidate in a scan, bounded by a worker pool (spec.md §4.3 "the inference
// stage classifies every candidate independently").
type Classifier struct {
	Engine     *Engine
	Signatures []features.Signature
	logger     *slog.Logger
}

// NewClassifier builds a Classifier bound to a fitted Engine and a compiled
// signature set.
func NewClassifier(engine *Engine, signatures []features.Signature) *Classifier {
	return &Classifier{Engine: engine, Signatures: signatures, logger: logging.New("inference")}
}

// CandidateOutcome pairs one candidate's derived bundle with its posterior
// result, keeping the pipeline's per-candidate identity intact end to end.
type CandidateOutcome struct {
	PID    int
	Bundle features.Bundle
	Result Result
}

// ClassifyAll derives features and computes posteriors for every candidate
// in a snapshot's quick-scan samples, optionally enriched by a deep scan's
// samples (nil deepSamples means quick-scan-only: write-fd evidence comes
// from the latest quick-scan sample as it is, and supervisor attribution is
// unknown for every candidate). Uses a bounded errgroup pool since each candidate's work is
// independent (mirrors the collector's own deep-scan probe pool).
func (c *Classifier) ClassifyAll(ctx context.Context, host procfs.HostContext, quickSamples [][]procfs.ProcessSample, deepSamples []procfs.ProcessSample, concurrency int) ([]CandidateOutcome, error) {
	if concurrency <= 0 {
		concurrency = defaultClassifyConcurrency()
	}

	supervisors := newSupervisorAttributionTable(deepSamples)
	deriver := &features.Deriver{
		Signatures:  c.Signatures,
		Supervisors: supervisors,
		ClockHz:     host.ClockTicksPerSec,
	}

	deepByPID := make(map[int]procfs.ProcessSample, len(deepSamples))
	for _, s := range deepSamples {
		deepByPID[s.Identity.PID] = s
	}

	out := make([]CandidateOutcome, len(quickSamples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, samples := range quickSamples {
		i, samples := i, samples
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = c.classifyOne(deriver, host, samples, deepByPID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Classifier) classifyOne(deriver *features.Deriver, host procfs.HostContext, samples []procfs.ProcessSample, deepByPID map[int]procfs.ProcessSample) CandidateOutcome {
	if len(samples) == 0 {
		return CandidateOutcome{}
	}
	latest := samples[len(samples)-1]
	pid := latest.Identity.PID

	merged := samples
	if deep, ok := deepByPID[pid]; ok {
		merged = append(append([]procfs.ProcessSample{}, samples[:len(samples)-1]...), deep)
		latest = deep
	}

	bundle := deriver.Derive(merged, host)
	deltas := collect.TickDeltas(merged)
	result := c.Engine.Classify(bundle, deltas, latest.State)

	return CandidateOutcome{PID: pid, Bundle: bundle, Result: result}
}

func defaultClassifyConcurrency() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}
