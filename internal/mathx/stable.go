// Package mathx provides the numerically stable log-domain primitives the
// inference engine builds on: log-sum-exp with max-shift, a stable log-gamma
// (via math.Lgamma), and the Beta/Dirichlet log-normalizers derived from it.
// No intermediate probability is ever materialized in linear space outside
// the final normalization, per the posterior computation's numerical
// contract.
package mathx

import "math"

// LogSumExp computes log(sum(exp(xs))) with the standard max-shift trick.
// Returns math.Inf(-1) for an empty or all -Inf input, and NaN if any input
// is NaN (propagated deliberately so callers can detect corruption instead
// of silently producing a wrong finite number).
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := math.Inf(-1)
	for _, x := range xs {
		if math.IsNaN(x) {
			return math.NaN()
		}
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// NormalizeLogProbs turns unnormalized log-probabilities into normalized log
// posteriors that sum to 1 in probability space.
func NormalizeLogProbs(logp []float64) []float64 {
	out := make([]float64, len(logp))
	if len(logp) == 0 {
		return out
	}
	for _, v := range logp {
		if math.IsNaN(v) {
			for i := range out {
				out[i] = math.NaN()
			}
			return out
		}
	}
	z := LogSumExp(logp)
	if math.IsNaN(z) {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	if math.IsInf(z, -1) {
		for i := range out {
			out[i] = math.Inf(-1)
		}
		return out
	}
	for i, v := range logp {
		out[i] = v - z
	}
	return out
}

// PosteriorProbs exponentiates normalized log posteriors into a probability
// vector.
func PosteriorProbs(logPosterior []float64) []float64 {
	out := make([]float64, len(logPosterior))
	for i, v := range logPosterior {
		if math.IsNaN(v) {
			for j := range out {
				out[j] = math.NaN()
			}
			return out
		}
		out[i] = math.Exp(v)
	}
	return out
}

// LogOdds returns the log-odds between two classes given normalized log
// posteriors.
func LogOdds(logPosterior []float64, idxA, idxB int) float64 {
	if idxA < 0 || idxB < 0 || idxA >= len(logPosterior) || idxB >= len(logPosterior) {
		return math.NaN()
	}
	return logPosterior[idxA] - logPosterior[idxB]
}

// LogBetaFn is the log of the Beta function, log B(a,b) = lgamma(a) +
// lgamma(b) - lgamma(a+b), used by the Beta-Binomial and Beta-Bernoulli
// evidence terms.
func LogBetaFn(a, b float64) float64 {
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	return la + lb - lab
}

// LogChoose is log(n choose k) via log-gamma, stable for large n.
func LogChoose(n, k float64) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	ln1, _ := math.Lgamma(n + 1)
	lk1, _ := math.Lgamma(k + 1)
	lnk1, _ := math.Lgamma(n - k + 1)
	return ln1 - lk1 - lnk1
}

// LogGamma is the stable log-gamma function, exposed directly for the
// Gamma/hazard evidence term's density and survival computations.
func LogGamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
