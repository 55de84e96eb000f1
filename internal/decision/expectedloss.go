// Package decision selects an action per candidate by minimizing expected
// loss under the posterior, then applies ordered safety gates and an FDR
// gate before a plan step is allowed to reach the executor (spec.md §4.4).
package decision

import (
	"math"

	"proctriage/internal/config"
)

// ExpectedLoss computes EL(a) = Σ_c P(c|x)·L[c][a] for every action, given a
// posterior probability vector indexed by config.ClassIndex.
func ExpectedLoss(probs []float64, loss config.LossMatrix) []float64 {
	out := make([]float64, len(config.Actions))
	for a := range config.Actions {
		var sum float64
		for c := range config.Classes {
			p := 0.0
			if c < len(probs) {
				p = probs[c]
			}
			l := loss.Loss(c, a)
			if math.IsInf(l, 1) {
				sum = math.Inf(1)
				break
			}
			sum += p * l
		}
		out[a] = sum
	}
	return out
}

// MinimalLossAction returns the action index minimizing expected loss. It
// returns only that index; when the minimizer is blocked by a safety gate the
// caller walks the escalation ladder from there (see plan.go).
func MinimalLossAction(el []float64) int {
	best := 0
	for i, v := range el {
		if v < el[best] {
			best = i
		}
	}
	return best
}
