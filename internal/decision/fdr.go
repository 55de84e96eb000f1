package decision

import (
	"sort"

	"proctriage/internal/config"
)

// EValue computes e_i = P(abandoned|x)/P(useful|x) for a candidate's
// posterior, the e-process this package's FDR gate controls (spec.md §4.4
// "FDR gate"). A candidate that is more "useful" than "abandoned" always
// scores below 1 and is essentially never selected.
func EValue(probs map[config.ClassName]float64) float64 {
	useful := probs[config.ClassUseful]
	if useful <= 0 {
		useful = 1e-9
	}
	return probs[config.ClassAbandoned] / useful
}

// FDRMethod picks the e-value selection rule (spec.md §4.4 names both).
type FDRMethod string

const (
	FDRMethodEBH  FDRMethod = "ebh" // e-Benjamini-Hochberg, valid under PRDS dependence
	FDRMethodEBY  FDRMethod = "eby" // e-Benjamini-Yekutieli, valid under arbitrary dependence
	FDRMethodNone FDRMethod = "none"
)

// SelectionResult reports which candidate indices the e-value gate cleared.
type SelectionResult struct {
	SelectedIdx []int
	SelectedK   int
	AlphaUsed   float64
}

// byCorrectionFactor is the e-BY harmonic correction sum_{i=1}^{m} 1/i,
// applied to alpha so the selection rule stays valid under arbitrary
// dependence between candidates' e-values.
func byCorrectionFactor(m int) float64 {
	var sum float64
	for i := 1; i <= m; i++ {
		sum += 1.0 / float64(i)
	}
	return sum
}

// SelectFDR runs the e-value FDR selection procedure: sort e-values
// descending, find the largest k such that the k-th largest e-value clears
// m/(k*alpha), and select the top k candidates. e-BY additionally shrinks
// alpha by the harmonic correction factor before running the same rule.
func SelectFDR(eValues []float64, alpha float64, method FDRMethod) SelectionResult {
	m := len(eValues)
	if m == 0 || method == FDRMethodNone {
		return SelectionResult{AlphaUsed: alpha}
	}

	effectiveAlpha := alpha
	if method == FDRMethodEBY {
		effectiveAlpha = alpha / byCorrectionFactor(m)
	}

	type indexed struct {
		idx int
		e   float64
	}
	sorted := make([]indexed, m)
	for i, e := range eValues {
		sorted[i] = indexed{idx: i, e: e}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].e > sorted[j].e })

	k := 0
	for rank := m; rank >= 1; rank-- {
		threshold := float64(m) / (float64(rank) * effectiveAlpha)
		if sorted[rank-1].e >= threshold {
			k = rank
			break
		}
	}

	selected := make([]int, 0, k)
	for i := 0; i < k; i++ {
		selected = append(selected, sorted[i].idx)
	}
	return SelectionResult{SelectedIdx: selected, SelectedK: k, AlphaUsed: effectiveAlpha}
}

// AlphaInvestingPolicy is the safety-budget process gating how much
// cumulative false-discovery risk a single long-running host may spend
// across runs (spec.md §4.4 "alpha-investing wealth persisted across runs").
type AlphaInvestingPolicy struct {
	W0         float64 // initial wealth
	AlphaSpend float64 // maximum alpha a single test may spend
	AlphaEarn  float64 // wealth rebate on a successful (rejecting) test
}

// AlphaInvestingPolicyFromConfig builds a policy from the loaded FDRConfig.
func AlphaInvestingPolicyFromConfig(cfg config.FDRConfig) AlphaInvestingPolicy {
	return AlphaInvestingPolicy{W0: cfg.InitialWealth, AlphaSpend: cfg.InitialWealth * 0.4, AlphaEarn: cfg.InitialWealth * 0.2}
}

// AlphaSpendForWealth caps the alpha a single test may spend at the
// policy's configured maximum, further capped by whatever wealth remains —
// a bankrupt wealth process can no longer approve any discovery.
func (p AlphaInvestingPolicy) AlphaSpendForWealth(wealth float64) float64 {
	if wealth <= 0 {
		return 0
	}
	if p.AlphaSpend < wealth {
		return p.AlphaSpend
	}
	return wealth
}

// AlphaWealthState is the persisted, run-to-run wealth level (spec.md §4.4;
// stored by internal/session alongside the run's other artifacts).
type AlphaWealthState struct {
	Wealth float64 `json:"wealth"`
}

// NewAlphaWealthState seeds a fresh wealth process at a policy's initial
// wealth, used the first time a host runs process triage.
func NewAlphaWealthState(policy AlphaInvestingPolicy) AlphaWealthState {
	return AlphaWealthState{Wealth: policy.W0}
}

// Spend runs one alpha-investing test: reject (the candidate clears the
// gate) when eValue clears 1/alpha at the alpha this wealth level allows to
// spend. Rejecting refunds AlphaEarn on top of the unspent balance; failing
// simply loses the spent alpha.
func (s *AlphaWealthState) Spend(policy AlphaInvestingPolicy, eValue float64) (reject bool, alphaUsed float64) {
	alphaUsed = policy.AlphaSpendForWealth(s.Wealth)
	if alphaUsed <= 0 {
		return false, 0
	}
	reject = eValue >= 1/alphaUsed
	if reject {
		s.Wealth = s.Wealth - alphaUsed + policy.AlphaEarn
	} else {
		s.Wealth -= alphaUsed
	}
	if s.Wealth < 0 {
		s.Wealth = 0
	}
	return reject, alphaUsed
}
