package inference

import (
	"math"

	"proctriage/internal/config"
	"proctriage/internal/evidence"
	"proctriage/internal/features"
	"proctriage/internal/mathx"
	"proctriage/internal/procfs"
)

// Result is one candidate's complete posterior computation (spec.md §3
// "Posterior Result"): normalized class probabilities, the MAP class, the
// evidence ledger that produced them, and the conformal prediction set.
type Result struct {
	ClassProbs     map[config.ClassName]float64 `json:"class_probs"`
	MAPClass       config.ClassName              `json:"map_class"`
	Ledger         evidence.Ledger                `json:"ledger"`
	ConformalSet   []config.ClassName            `json:"conformal_set"`
	NonConformity  float64                        `json:"nonconformity_map"`
	ChangePoint    *ChangePointSummary            `json:"change_point,omitempty"`
}

// Engine computes posteriors for candidates against a fixed priors table and
// (optionally) a calibration set for conformal prediction.
type Engine struct {
	Priors     config.Priors
	Calibrator *Calibrator // nil disables conformal set computation (spec.md §4.3 falls back to reporting only the posterior)
}

// NewEngine builds an Engine bound to a priors table.
func NewEngine(priors config.Priors) *Engine {
	return &Engine{Priors: priors}
}

// Classify computes the posterior for one candidate from its derived feature
// bundle, its raw tick-delta series (for BOCPD), and its liveness state.
func (e *Engine) Classify(bundle features.Bundle, deltas []procfs.TickDelta, state procfs.ProcState) Result {
	category := string(bundle.Category)
	ledger := e.buildLedger(bundle, category, state)

	logPost := make([]float64, len(config.Classes))
	for i, class := range config.Classes {
		cp, err := e.Priors.ForClass(class, category)
		prior := 0.0
		if err == nil {
			prior = cp.PriorWeight
		}
		logPost[i] = logPriorWeight(prior) + ledger.SumLogLikelihood(i)
	}
	normalized := mathx.NormalizeLogProbs(logPost)
	probs := mathx.PosteriorProbs(normalized)

	mapIdx := argmax(probs)
	classProbs := make(map[config.ClassName]float64, len(config.Classes))
	for i, class := range config.Classes {
		classProbs[class] = probs[i]
	}

	res := Result{
		ClassProbs: classProbs,
		MAPClass:   config.Classes[mapIdx],
		Ledger:     ledger,
	}

	if e.Calibrator != nil {
		res.ConformalSet, res.NonConformity = e.Calibrator.PredictionSet(probs)
	} else {
		res.ConformalSet = []config.ClassName{res.MAPClass}
	}

	if cp := detectChangePoint(deltas); cp != nil {
		res.ChangePoint = cp
	}

	return res
}

// buildLedger evaluates every evidence term against the priors table,
// applying signature priors overrides when a signature matched, and
// recording degraded entries for features whose source probe failed
// (spec.md §4.2 "features whose sources failed are present with a null
// value").
func (e *Engine) buildLedger(bundle features.Bundle, category string, state procfs.ProcState) evidence.Ledger {
	priors := e.effectivePriors(bundle)

	var ledger evidence.Ledger

	if bundle.CPUFractionProv == features.ProvenanceObserved {
		ll := betaBinomialLogLikelihoods(priors, category, bundle.CPUFraction, bundle.NEff)
		ledger = append(ledger, entryFromLikelihoods("cpu_occupancy", ll, cpuDetail(bundle)))
	} else {
		ledger = append(ledger, evidence.DegradedEntry("cpu_occupancy", "cpu probe unavailable"))
	}

	stillAlive := state != procfs.StateZombie
	source := selectRuntimeSource(stillAlive, true)
	ll := gammaHazardLogLikelihoods(priors, category, bundle.AgeSeconds, source == runtimeSourceHazard)
	ledger = append(ledger, entryFromLikelihoods("runtime_hazard", ll, runtimeEntryDetail(source, bundle.AgeSeconds)))

	if bundle.Orphan != features.OrphanUnknown {
		ll := betaBernoulliLogLikelihoods(priors, category, bundle.Orphan == features.OrphanYes, func(cp config.ClassPriors) config.BetaParams { return cp.Orphan })
		ledger = append(ledger, entryFromLikelihoods("orphan", ll, "ppid==1 and supervisor attribution resolved"))
	} else {
		ledger = append(ledger, evidence.DegradedEntry("orphan", "supervisor attribution unavailable"))
	}

	ttyLL := betaBernoulliLogLikelihoods(priors, category, bundle.TTYAttached, func(cp config.ClassPriors) config.BetaParams { return cp.TTY })
	ledger = append(ledger, entryFromLikelihoods("tty_attached", ttyLL, "controlling terminal presence"))

	if bundle.WriteFDProv == features.ProvenanceObserved {
		wfLL := betaBernoulliLogLikelihoods(priors, category, bundle.HasWriteFD, func(cp config.ClassPriors) config.BetaParams { return cp.WriteFD })
		ledger = append(ledger, entryFromLikelihoods("write_fd", wfLL, "at least one writable file descriptor open"))
	} else {
		ledger = append(ledger, evidence.DegradedEntry("write_fd", "fd probe timed out or was unavailable"))
	}

	catLL := categoryLogLikelihoods(priors, category, category)
	ledger = append(ledger, entryFromLikelihoods("category", catLL, "process category classification"))

	return ledger
}

// effectivePriors applies a matched signature's per-class priors overrides
// on top of the engine's base priors table, class by class. A signature with
// no override for a given class leaves that class's priors untouched.
func (e *Engine) effectivePriors(bundle features.Bundle) config.Priors {
	if bundle.SignatureMatch == nil || len(bundle.SignatureMatch.PriorsOverrides) == 0 {
		return e.Priors
	}
	merged := e.Priors
	merged.ByClass = make(map[config.ClassName]config.ClassPriors, len(e.Priors.ByClass))
	for k, v := range e.Priors.ByClass {
		merged.ByClass[k] = v
	}
	for class, override := range bundle.SignatureMatch.PriorsOverrides {
		merged.ByClass[class] = override
	}
	return merged
}

// entryFromLikelihoods wraps a raw log-likelihood vector into a ledger
// entry, computing its Bayes factor between the MAP class and the runner-up
// class within this term alone (spec.md §4.3 "Bayes factor surface" is
// per-term, not just aggregate).
func entryFromLikelihoods(factor string, ll []float64, detail string) evidence.Entry {
	mapIdx, altIdx := topTwo(ll)
	return evidence.NewEntry(factor, ll, mapIdx, altIdx, detail)
}

func topTwo(xs []float64) (mapIdx, altIdx int) {
	mapIdx, altIdx = -1, -1
	for i, v := range xs {
		if mapIdx == -1 || v > xs[mapIdx] {
			altIdx = mapIdx
			mapIdx = i
		} else if altIdx == -1 || v > xs[altIdx] {
			altIdx = i
		}
	}
	return mapIdx, altIdx
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

const negLogFloor = -1e6

func logPriorWeight(w float64) float64 {
	if w <= 0 {
		return negLogFloor
	}
	return math.Log(w)
}

func cpuDetail(b features.Bundle) string {
	return "cpu_fraction and n_eff observed over quick-scan window"
}
