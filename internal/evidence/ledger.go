// Package evidence implements the sum-decomposable Evidence Ledger: one
// entry per evidence term, each carrying per-class log-likelihood
// contributions, a Bayes factor against the runner-up class, and a Jeffreys
// strength bucket (spec.md §3 "Evidence Ledger Entry", §4.3 "Bayes factor
// surface").
package evidence

import (
	"proctriage/internal/config"
)

// Strength is a Jeffreys bucket for a Bayes factor, in nats (spec.md §4.3:
// weak <1.0, moderate [1,3], strong [3,5], decisive >5).
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
	StrengthDecisive Strength = "decisive"
)

// JeffreysBucket classifies a non-negative log Bayes factor (nats) into its
// strength bucket.
func JeffreysBucket(logBF float64) Strength {
	switch {
	case logBF < 1.0:
		return StrengthWeak
	case logBF < 3.0:
		return StrengthModerate
	case logBF < 5.0:
		return StrengthStrong
	default:
		return StrengthDecisive
	}
}

// Entry is one evidence term's contribution to the posterior (spec.md §3).
// LogLikelihood is indexed by config.ClassIndex, one value per class.
type Entry struct {
	Factor        string             `json:"factor"`
	LogLikelihood []float64          `json:"log_likelihood"`
	LogBayesFactor float64           `json:"log_bayes_factor"`
	Detail        string             `json:"detail"`
	Strength      Strength           `json:"strength"`
	Degraded      bool               `json:"degraded,omitempty"`
	DegradedWhy   string             `json:"degraded_why,omitempty"`
}

// NewEntry builds an Entry, computing its Bayes factor against the
// runner-up class from the same log-likelihood vector the entry carries.
// mapClass and altClass are config.ClassIndex values (MAP class, runner-up).
func NewEntry(factor string, logLikelihood []float64, mapClass, altClass int, detail string) Entry {
	logBF := 0.0
	if mapClass >= 0 && altClass >= 0 && mapClass < len(logLikelihood) && altClass < len(logLikelihood) {
		logBF = logLikelihood[mapClass] - logLikelihood[altClass]
	}
	abs := logBF
	if abs < 0 {
		abs = -abs
	}
	return Entry{
		Factor:         factor,
		LogLikelihood:  logLikelihood,
		LogBayesFactor: logBF,
		Detail:         detail,
		Strength:       JeffreysBucket(abs),
	}
}

// DegradedEntry records a term whose source data was unavailable or failed
// to probe. Its log-likelihood is zero for every class (contributes nothing
// to the posterior) rather than silently treating missing data as zero
// evidence for a specific class (spec.md §4.2 invariant).
func DegradedEntry(factor, why string) Entry {
	return Entry{
		Factor:      factor,
		LogLikelihood: make([]float64, len(config.Classes)),
		Detail:      "no observation available",
		Strength:    StrengthWeak,
		Degraded:    true,
		DegradedWhy: why,
	}
}

// Ledger is the ordered list of evidence entries for one candidate. It is
// sum-decomposable: the posterior log-odds between any two classes equals
// the sum of every entry's per-class contribution plus the log prior odds
// (spec.md §3, §8 "Ledger decomposition").
type Ledger []Entry

// SumLogLikelihood returns, for classIdx, the sum of every entry's
// contribution to that class — the Σ_j log P(x_j | C) term of the posterior
// computation (spec.md §4.3).
func (l Ledger) SumLogLikelihood(classIdx int) float64 {
	var sum float64
	for _, e := range l {
		if classIdx < len(e.LogLikelihood) {
			sum += e.LogLikelihood[classIdx]
		}
	}
	return sum
}

// LogOddsBetween sums every entry's log Bayes-factor-equivalent contribution
// to the log-odds between two classes: Σ_j (LL_j[a] - LL_j[b]).
func (l Ledger) LogOddsBetween(classA, classB int) float64 {
	var sum float64
	for _, e := range l {
		if classA < len(e.LogLikelihood) && classB < len(e.LogLikelihood) {
			sum += e.LogLikelihood[classA] - e.LogLikelihood[classB]
		}
	}
	return sum
}
