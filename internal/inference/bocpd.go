package inference

import (
	"math"

	"proctriage/internal/procfs"
)

// ChangePointSummary reports the outcome of Bayesian online change-point
// detection over a candidate's CPU-tick-delta series (spec.md §4.3
// "Change-point detector"): whether the most recent run-length posterior
// concentrates on a short run (a recent regime shift) and, if so, how
// confident that signal is.
type ChangePointSummary struct {
	Detected       bool    `json:"detected"`
	RunLength      int     `json:"run_length"`
	Confidence     float64 `json:"confidence"`
	ObservedPoints int     `json:"observed_points"`
}

// changePointHazard is the constant geometric hazard rate used by the
// run-length prior: P(change at any given step) = 1/250 (spec.md
// §4.3 default hazard).
const changePointHazard = 1.0 / 250.0

// bocpdMinPoints is the minimum series length before a change-point verdict
// is reported at all; shorter series are too noisy to distinguish a regime
// shift from sampling jitter.
const bocpdMinPoints = 4

// detectChangePoint runs a Bayesian online change-point detector over a
// tick-delta series's per-interval CPU-fraction values, using a Normal
// predictive model with unknown mean/variance (Normal-Inverse-Gamma
// conjugate) exactly as in Adams & MacKay's constant-hazard BOCPD. It
// returns nil when there is not enough history to say anything.
func detectChangePoint(deltas []procfs.TickDelta) *ChangePointSummary {
	if len(deltas) < bocpdMinPoints {
		return nil
	}
	obs := make([]float64, 0, len(deltas))
	for _, d := range deltas {
		if d.DurationSecs <= 0 {
			continue
		}
		obs = append(obs, float64(d.UserTicks+d.SysTicks)/d.DurationSecs)
	}
	if len(obs) < bocpdMinPoints {
		return nil
	}

	// Run-length posterior in log space. runLogProb[r] is the log
	// probability that the current run length is r, at the most recent step.
	runLogProb := []float64{0} // step 0: run length 0 with probability 1

	// Normal-Inverse-Gamma sufficient statistics per active run length,
	// parallel to runLogProb. params[r] describes the predictive
	// distribution for the next observation given a run of length r.
	params := []nigParams{initialNIG()}

	logHazard := math.Log(changePointHazard)
	log1mHazard := math.Log(1 - changePointHazard)

	for _, x := range obs {
		predLogLik := make([]float64, len(params))
		for i, p := range params {
			predLogLik[i] = p.predictiveLogLikelihood(x)
		}

		growLogProb := make([]float64, len(runLogProb))
		var changeLogProb float64 = math.Inf(-1)
		for r := range runLogProb {
			joint := runLogProb[r] + predLogLik[r]
			growLogProb[r] = joint + log1mHazard
			changeLogProb = logAddExp(changeLogProb, joint+logHazard)
		}

		newRunLogProb := make([]float64, len(growLogProb)+1)
		newRunLogProb[0] = changeLogProb
		copy(newRunLogProb[1:], growLogProb)

		newParams := make([]nigParams, len(params)+1)
		newParams[0] = initialNIG()
		for i, p := range params {
			newParams[i+1] = p.update(x)
		}

		total := logAddExpSlice(newRunLogProb)
		if !math.IsInf(total, -1) {
			for i := range newRunLogProb {
				newRunLogProb[i] -= total
			}
		}

		runLogProb = newRunLogProb
		params = newParams
	}

	mapRun := 0
	best := math.Inf(-1)
	for r, lp := range runLogProb {
		if lp > best {
			best = lp
			mapRun = r
		}
	}

	shortRunThreshold := len(obs) / 3
	if shortRunThreshold < 1 {
		shortRunThreshold = 1
	}

	return &ChangePointSummary{
		Detected:       mapRun <= shortRunThreshold && mapRun < len(obs)-1,
		RunLength:      mapRun,
		Confidence:     math.Exp(best),
		ObservedPoints: len(obs),
	}
}

// nigParams are Normal-Inverse-Gamma sufficient statistics for the
// predictive distribution of the next CPU-fraction observation within one
// hypothesized run.
type nigParams struct {
	mu    float64
	kappa float64
	alpha float64
	beta  float64
}

func initialNIG() nigParams {
	return nigParams{mu: 0, kappa: 1, alpha: 1, beta: 1}
}

// predictiveLogLikelihood is the log Student-t predictive density implied
// by this run's Normal-Inverse-Gamma posterior.
func (p nigParams) predictiveLogLikelihood(x float64) float64 {
	df := 2 * p.alpha
	scaleSq := p.beta * (p.kappa + 1) / (p.alpha * p.kappa)
	return logStudentT(x, p.mu, scaleSq, df)
}

// update folds one new observation into the run's sufficient statistics.
func (p nigParams) update(x float64) nigParams {
	kappaN := p.kappa + 1
	muN := (p.kappa*p.mu + x) / kappaN
	alphaN := p.alpha + 0.5
	betaN := p.beta + (p.kappa*(x-p.mu)*(x-p.mu))/(2*kappaN)
	return nigParams{mu: muN, kappa: kappaN, alpha: alphaN, beta: betaN}
}

// logStudentT is the log density of a (possibly scaled/shifted) Student-t
// distribution, built from math.Lgamma exactly like the rest of the
// inference engine's closed-form terms.
func logStudentT(x, loc, scaleSq, df float64) float64 {
	if scaleSq <= 0 {
		scaleSq = 1e-9
	}
	z := (x - loc) * (x - loc) / scaleSq
	lgA, _ := math.Lgamma((df + 1) / 2)
	lgB, _ := math.Lgamma(df / 2)
	return lgA - lgB - 0.5*math.Log(df*math.Pi*scaleSq) - ((df+1)/2)*math.Log(1+z/df)
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

func logAddExpSlice(xs []float64) float64 {
	total := math.Inf(-1)
	for _, x := range xs {
		total = logAddExp(total, x)
	}
	return total
}
