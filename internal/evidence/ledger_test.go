package evidence

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJeffreysBucket(t *testing.T) {
	tests := []struct {
		name  string
		logBF float64
		want  Strength
	}{
		{name: "weak lower bound", logBF: 0, want: StrengthWeak},
		{name: "weak upper edge", logBF: 0.99, want: StrengthWeak},
		{name: "moderate lower edge", logBF: 1.0, want: StrengthModerate},
		{name: "moderate upper edge", logBF: 2.99, want: StrengthModerate},
		{name: "strong lower edge", logBF: 3.0, want: StrengthStrong},
		{name: "strong upper edge", logBF: 4.99, want: StrengthStrong},
		{name: "decisive", logBF: 5.01, want: StrengthDecisive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JeffreysBucket(tt.logBF); got != tt.want {
				t.Errorf("JeffreysBucket(%v) = %q, want %q", tt.logBF, got, tt.want)
			}
		})
	}
}

func TestNewEntry_ComputesBayesFactorFromMAPAndAlt(t *testing.T) {
	ll := []float64{-1.0, -5.0, -2.0, -10.0} // useful, useful_bad, abandoned, zombie
	e := NewEntry("cpu_occupancy", ll, 0, 2, "high cpu usage")
	want := ll[0] - ll[2]
	if math.Abs(e.LogBayesFactor-want) > 1e-12 {
		t.Errorf("LogBayesFactor = %v, want %v", e.LogBayesFactor, want)
	}
	if e.Strength != JeffreysBucket(1.0) {
		t.Errorf("Strength = %q", e.Strength)
	}
}

func TestDegradedEntry_ContributesZeroToEveryClass(t *testing.T) {
	e := DegradedEntry("write_fd", "probe timeout")
	if !e.Degraded {
		t.Fatal("expected Degraded=true")
	}
	for i, ll := range e.LogLikelihood {
		if ll != 0 {
			t.Errorf("LogLikelihood[%d] = %v, want 0", i, ll)
		}
	}
}

func TestLedger_SumLogLikelihood(t *testing.T) {
	l := Ledger{
		{LogLikelihood: []float64{-1, -2, -3, -4}},
		{LogLikelihood: []float64{-0.5, -0.5, -0.5, -0.5}},
	}
	if got := l.SumLogLikelihood(0); math.Abs(got-(-1.5)) > 1e-12 {
		t.Errorf("SumLogLikelihood(0) = %v, want -1.5", got)
	}
}

// TestLedger_SumLogLikelihood_DecomposesAcrossEntries is a round-trip
// property test of the ledger's sum-decomposability invariant (spec.md §3,
// §8 "Ledger decomposition"): the per-class totals produced by summing
// across entries must equal the totals reconstructed by walking the same
// entries independently and accumulating by hand. cmp.Diff surfaces exactly
// which class index diverged, rather than a single pass/fail bit.
func TestLedger_SumLogLikelihood_DecomposesAcrossEntries(t *testing.T) {
	l := Ledger{
		{Factor: "cpu_occupancy", LogLikelihood: []float64{-1, -2, -3, -4}},
		{Factor: "runtime_hazard", LogLikelihood: []float64{-0.5, -1.5, -2.5, -3.5}},
		{Factor: "orphan", LogLikelihood: []float64{0, -0.25, -0.5, -0.75}},
	}

	got := make([]float64, 4)
	for i := range got {
		got[i] = l.SumLogLikelihood(i)
	}

	want := make([]float64, 4)
	for _, entry := range l {
		for i, ll := range entry.LogLikelihood {
			want[i] += ll
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ledger decomposition mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_LogOddsBetween_MatchesManualSum(t *testing.T) {
	l := Ledger{
		{LogLikelihood: []float64{-1, -2, -3, -4}},
		{LogLikelihood: []float64{-0.1, -0.2, -0.3, -0.4}},
	}
	got := l.LogOddsBetween(0, 3)
	want := (-1 - (-4)) + (-0.1 - (-0.4))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogOddsBetween(0,3) = %v, want %v", got, want)
	}
}
