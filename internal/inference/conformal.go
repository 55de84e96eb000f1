package inference

import (
	"math"
	"sort"

	"proctriage/internal/config"
)

// Calibrator implements split-conformal prediction over the fixed class set
// (spec.md §4.3 "Conformal classification set"): a held-out calibration set
// of (true class, posterior) pairs produces a threshold, and any candidate's
// prediction set is every class whose posterior probability clears that
// threshold, at the configured miscoverage rate alpha.
type Calibrator struct {
	Alpha     float64
	threshold float64
	fitted    bool
}

// NewCalibrator fits a split-conformal threshold from calibration examples.
// Each calibrationProbs[i] is the posterior probability vector produced for
// a labeled example whose true class is calibrationTrueClass[i]. alpha is
// the target miscoverage rate (e.g. 0.1 for 90% coverage).
func NewCalibrator(alpha float64, calibrationProbs [][]float64, calibrationTrueClass []int) *Calibrator {
	c := &Calibrator{Alpha: alpha}
	if len(calibrationProbs) == 0 || len(calibrationProbs) != len(calibrationTrueClass) {
		return c
	}
	scores := make([]float64, len(calibrationProbs))
	for i, probs := range calibrationProbs {
		scores[i] = nonConformityScore(probs, calibrationTrueClass[i])
	}
	sort.Float64s(scores)

	n := len(scores)
	rank := int(ceilFloat(float64(n+1) * (1 - alpha)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	c.threshold = scores[rank-1]
	c.fitted = true
	return c
}

// nonConformityScore is s(x,c) = -log P(c|x); a low score means the model
// was confident in the true class.
func nonConformityScore(probs []float64, classIdx int) float64 {
	if classIdx < 0 || classIdx >= len(probs) || probs[classIdx] <= 0 {
		return posInfScore
	}
	return -math.Log(probs[classIdx])
}

const posInfScore = 1e9

// PredictionSet returns the conformal prediction set for a candidate's
// posterior probability vector: every class whose non-conformity score does
// not exceed the fitted threshold, plus the MAP class's own non-conformity
// score for reporting. An uncalibrated Calibrator degenerates to the
// singleton MAP-class set.
func (c *Calibrator) PredictionSet(probs []float64) ([]config.ClassName, float64) {
	mapIdx := argmax(probs)
	mapScore := nonConformityScore(probs, mapIdx)
	if !c.fitted {
		return []config.ClassName{config.Classes[mapIdx]}, mapScore
	}
	var set []config.ClassName
	for i, class := range config.Classes {
		if nonConformityScore(probs, i) <= c.threshold {
			set = append(set, class)
		}
	}
	if len(set) == 0 {
		set = append(set, config.Classes[mapIdx])
	}
	return set, mapScore
}

func ceilFloat(x float64) float64 {
	return math.Ceil(x)
}

// calibrationDominance and calibrationReplicas shape the synthetic
// calibration set BootstrapCalibrationSet produces: each class contributes
// this many examples, each one weighted mostly toward its own class and the
// remainder split across the others in proportion to their prior weight.
const (
	calibrationDominance = 0.7
	calibrationReplicas  = 5
)

// BootstrapCalibrationSet synthesizes a calibration set directly from the
// priors table (spec.md §4.3, "calibration set of prior outcomes,
// bootstrapped from priors when empty"). This repository has no prior-kill
// outcome feedback loop, so the "when empty" branch is the only one ever
// reachable here; every run calibrates against the same priors-derived set
// rather than accumulating labeled history across sessions.
func BootstrapCalibrationSet(priors config.Priors) (probs [][]float64, trueClass []int) {
	n := len(config.Classes)
	weights := make([]float64, n)
	total := 0.0
	for i, c := range config.Classes {
		w := priors.ByClass[c].PriorWeight
		if w <= 0 {
			w = 1.0 / float64(n)
		}
		weights[i] = w
		total += w
	}

	probs = make([][]float64, 0, n*calibrationReplicas)
	trueClass = make([]int, 0, n*calibrationReplicas)
	for ci := range config.Classes {
		vec := make([]float64, n)
		remaining := 1 - calibrationDominance
		otherTotal := total - weights[ci]
		for j := range config.Classes {
			if j == ci {
				vec[j] = calibrationDominance
				continue
			}
			if otherTotal <= 0 {
				vec[j] = remaining / float64(n-1)
			} else {
				vec[j] = remaining * weights[j] / otherTotal
			}
		}
		for r := 0; r < calibrationReplicas; r++ {
			probs = append(probs, vec)
			trueClass = append(trueClass, ci)
		}
	}
	return probs, trueClass
}
