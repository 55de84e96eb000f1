// Package inference computes, for each candidate, the posterior class
// distribution and its supporting evidence ledger (spec.md §4.3).
package inference

import (
	"fmt"
	"math"

	"proctriage/internal/config"
	"proctriage/internal/mathx"
)

// betaBinomialLogLikelihoods returns, for every class, the log predictive
// probability of observing k "successes" (cpu_frac scaled by n_eff) out of n
// trials under that class's Beta-Binomial conjugate pair (spec.md §4.3 "CPU
// occupancy").
func betaBinomialLogLikelihoods(priors config.Priors, category string, cpuFrac, nEff float64) []float64 {
	n := math.Round(nEff)
	if n < 1 {
		n = 1
	}
	k := math.Round(cpuFrac * n)
	if k < 0 {
		k = 0
	}
	if k > n {
		k = n
	}

	out := make([]float64, len(config.Classes))
	for i, class := range config.Classes {
		cp, err := priors.ForClass(class, category)
		if err != nil {
			out[i] = math.Inf(-1)
			continue
		}
		a := priors.Bounds.Clamp(cp.CPU.Alpha, false)
		b := priors.Bounds.Clamp(cp.CPU.Beta, false)
		out[i] = logBetaBinomialPMF(k, n, a, b)
	}
	return out
}

// logBetaBinomialPMF is the log Beta-Binomial predictive mass function:
// log C(n,k) + logB(k+a, n-k+b) - logB(a,b).
func logBetaBinomialPMF(k, n, a, b float64) float64 {
	return mathx.LogChoose(n, k) + mathx.LogBetaFn(k+a, n-k+b) - mathx.LogBetaFn(a, b)
}

// gammaHazardLogLikelihoods returns, for every class, the log density (or
// log survival, under right-censoring) of the observed age under that
// class's Gamma-distributed hazard (spec.md §4.3 "Runtime/hazard"). The
// process is still alive at observation, so a live candidate always uses
// the survival function, not the density — the density would treat "still
// running" as "the process ended exactly now."
func gammaHazardLogLikelihoods(priors config.Priors, category string, ageSeconds float64, censored bool) []float64 {
	out := make([]float64, len(config.Classes))
	for i, class := range config.Classes {
		cp, err := priors.ForClass(class, category)
		if err != nil {
			out[i] = math.Inf(-1)
			continue
		}
		shape := priors.Bounds.Clamp(cp.Runtime.Shape, true)
		rate := priors.Bounds.Clamp(cp.Runtime.Rate, true)
		if censored {
			out[i] = logGammaSurvival(ageSeconds, shape, rate)
		} else {
			out[i] = logGammaDensity(ageSeconds, shape, rate)
		}
	}
	return out
}

// logGammaDensity is the log Gamma(shape, rate) density at x.
func logGammaDensity(x, shape, rate float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	if x == 0 {
		x = 1e-9 // avoid log(0) for a process observed at age ~0
	}
	return shape*math.Log(rate) - mathx.LogGamma(shape) + (shape-1)*math.Log(x) - rate*x
}

// logGammaSurvival is log P(X > x) under Gamma(shape, rate), computed via
// the regularized upper incomplete gamma function using a continued
// fraction for x >= shape+1 and a series for x < shape+1 (standard
// numerically stable split for the incomplete gamma function). The
// continued-fraction branch stays in log space, so a very old process does
// not underflow to -Inf.
func logGammaSurvival(x, shape, rate float64) float64 {
	if x <= 0 {
		return 0 // log(1)
	}
	z := rate * x
	if z >= shape+1 {
		return logUpperIncompleteGammaCF(shape, z)
	}
	q := upperIncompleteGammaRegularized(shape, z)
	if q <= 0 {
		return math.Inf(-1)
	}
	return math.Log(q)
}

// upperIncompleteGammaRegularized computes Q(a, x) = Γ(a,x)/Γ(a) via the
// classic series (x < a+1) / continued fraction (x >= a+1) split.
func upperIncompleteGammaRegularized(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return math.NaN()
	}
	if x == 0 {
		return 1
	}
	if x < a+1 {
		return 1 - lowerIncompleteGammaSeries(a, x)
	}
	return math.Exp(logUpperIncompleteGammaCF(a, x))
}

func lowerIncompleteGammaSeries(a, x float64) float64 {
	const maxIter = 200
	const eps = 1e-14
	ap := a
	sum := 1.0 / a
	del := sum
	for i := 0; i < maxIter; i++ {
		ap++
		del *= x / ap
		sum += del
		if math.Abs(del) < math.Abs(sum)*eps {
			break
		}
	}
	logPrefix := -x + a*math.Log(x) - mathx.LogGamma(a)
	return sum * math.Exp(logPrefix)
}

func logUpperIncompleteGammaCF(a, x float64) float64 {
	const maxIter = 200
	const eps = 1e-14
	const tiny = 1e-300
	b := x + 1 - a
	c := 1 / tiny
	d := 1 / b
	h := d
	for i := 1; i < maxIter; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = b + an/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	logPrefix := -x + a*math.Log(x) - mathx.LogGamma(a)
	return math.Log(h) + logPrefix
}

// betaBernoulliLogLikelihoods returns, for every class, the log predictive
// probability of a single Bernoulli observation (orphan/TTY/write-fd
// presence) under that class's Beta-Bernoulli conjugate pair (spec.md §4.3).
func betaBernoulliLogLikelihoods(priors config.Priors, category string, observed bool, field func(config.ClassPriors) config.BetaParams) []float64 {
	out := make([]float64, len(config.Classes))
	for i, class := range config.Classes {
		cp, err := priors.ForClass(class, category)
		if err != nil {
			out[i] = math.Inf(-1)
			continue
		}
		params := field(cp)
		a := priors.Bounds.Clamp(params.Alpha, false)
		b := priors.Bounds.Clamp(params.Beta, false)
		p := a / (a + b) // posterior predictive mean of a Beta-Bernoulli
		if observed {
			out[i] = math.Log(p)
		} else {
			out[i] = math.Log(1 - p)
		}
	}
	return out
}

// categoryLogLikelihoods returns, for every class, the log predictive
// probability of the observed category under that class's
// Dirichlet-Categorical distribution (spec.md §4.3).
func categoryLogLikelihoods(priors config.Priors, category string, observedCategory string) []float64 {
	out := make([]float64, len(config.Classes))
	for i, class := range config.Classes {
		cp, err := priors.ForClass(class, category)
		if err != nil {
			out[i] = math.Inf(-1)
			continue
		}
		total := 0.0
		for _, v := range cp.Category {
			total += v
		}
		if total <= 0 {
			out[i] = math.Log(1.0 / float64(maxInt(len(cp.Category), 1)))
			continue
		}
		count, ok := cp.Category[observedCategory]
		if !ok {
			count = 1e-3 // Laplace-style floor for a category not present in the prior table
		}
		out[i] = math.Log(count / total)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runtimeEvidenceSource names which of {naive, hazard} produced the runtime
// evidence term, recorded in the ledger per the correlation-discipline
// invariant (spec.md §4.3).
type runtimeEvidenceSource string

const (
	runtimeSourceHazard runtimeEvidenceSource = "hazard_survival"
	runtimeSourceNaive  runtimeEvidenceSource = "naive_density"
)

// selectRuntimeSource deterministically picks exactly one runtime
// likelihood per candidate: hazard/survival when the process is confirmed
// still alive (the common case), naive density only when liveness could not
// be confirmed (so survival semantics would be meaningless).
func selectRuntimeSource(stillAlive, aliveKnown bool) runtimeEvidenceSource {
	if aliveKnown && stillAlive {
		return runtimeSourceHazard
	}
	return runtimeSourceNaive
}

func runtimeEntryDetail(source runtimeEvidenceSource, ageSeconds float64) string {
	return fmt.Sprintf("age=%.1fs source=%s", ageSeconds, source)
}
