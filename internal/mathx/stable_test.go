package mathx

import (
	"math"
	"testing"
)

func approxEq(a, b, tol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return math.Abs(a-b) <= tol
}

func TestNormalizeLogProbs_Basic(t *testing.T) {
	out := NormalizeLogProbs([]float64{0, 0})
	if !approxEq(math.Exp(out[0]), 0.5, 1e-12) || !approxEq(math.Exp(out[1]), 0.5, 1e-12) {
		t.Fatalf("got %v", out)
	}
}

func TestNormalizeLogProbs_ShiftInvariant(t *testing.T) {
	n1 := NormalizeLogProbs([]float64{1, 2, 3})
	n2 := NormalizeLogProbs([]float64{11, 12, 13})
	for i := range n1 {
		if !approxEq(n1[i], n2[i], 1e-12) {
			t.Fatalf("mismatch at %d: %v vs %v", i, n1, n2)
		}
	}
}

func TestPosteriorProbs_SumToOne(t *testing.T) {
	logPost := NormalizeLogProbs([]float64{0, -1, -2})
	probs := PosteriorProbs(logPost)
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if !approxEq(sum, 1.0, 1e-9) {
		t.Fatalf("sum = %v, want 1", sum)
	}
}

func TestLogOdds_MatchesDifference(t *testing.T) {
	logPost := []float64{-0.2, -1.3}
	got := LogOdds(logPost, 0, 1)
	if !approxEq(got, 1.1, 1e-12) {
		t.Fatalf("got %v want 1.1", got)
	}
}

func TestLogSumExp_HandlesExtremes(t *testing.T) {
	got := LogSumExp([]float64{0, -1000, -2000})
	if !approxEq(got, 0, 1e-6) {
		t.Fatalf("got %v want ~0", got)
	}
}

func TestLogSumExp_EmptyIsNegInf(t *testing.T) {
	if got := LogSumExp(nil); !math.IsInf(got, -1) {
		t.Fatalf("got %v want -Inf", got)
	}
}

func TestLogSumExp_PropagatesNaN(t *testing.T) {
	if got := LogSumExp([]float64{0, math.NaN()}); !math.IsNaN(got) {
		t.Fatalf("got %v want NaN", got)
	}
}

func TestLogBetaFn_SymmetricAndKnownValue(t *testing.T) {
	// B(1,1) = 1, so log B(1,1) = 0.
	if got := LogBetaFn(1, 1); !approxEq(got, 0, 1e-9) {
		t.Fatalf("LogBetaFn(1,1) = %v, want 0", got)
	}
	if got, want := LogBetaFn(2, 3), LogBetaFn(3, 2); !approxEq(got, want, 1e-12) {
		t.Fatalf("LogBetaFn not symmetric: %v vs %v", got, want)
	}
}

func TestLogChoose_KnownValues(t *testing.T) {
	got := LogChoose(5, 2)
	want := math.Log(10)
	if !approxEq(got, want, 1e-9) {
		t.Fatalf("LogChoose(5,2) = %v, want %v", got, want)
	}
}
