package inference

import (
	"math"
	"testing"

	"proctriage/internal/config"
)

func testPriors() config.Priors {
	p := config.DefaultPriors()
	return p
}

func TestBetaBinomialLogLikelihoods_HighCPUFavorsUseful(t *testing.T) {
	priors := testPriors()
	ll := betaBinomialLogLikelihoods(priors, "", 0.9, 20)
	useful := ll[config.ClassIndex(config.ClassUseful)]
	zombie := ll[config.ClassIndex(config.ClassZombie)]
	if useful <= zombie {
		t.Errorf("high sustained cpu: useful ll=%v should exceed zombie ll=%v", useful, zombie)
	}
}

func TestBetaBinomialLogLikelihoods_ZeroCPUFavorsZombie(t *testing.T) {
	priors := testPriors()
	ll := betaBinomialLogLikelihoods(priors, "", 0.0, 20)
	useful := ll[config.ClassIndex(config.ClassUseful)]
	zombie := ll[config.ClassIndex(config.ClassZombie)]
	if zombie <= useful {
		t.Errorf("zero cpu: zombie ll=%v should exceed useful ll=%v", zombie, useful)
	}
}

func TestLogGammaSurvival_DecreasesWithAge(t *testing.T) {
	shape, rate := 2.0, 0.02
	early := logGammaSurvival(10, shape, rate)
	late := logGammaSurvival(10000, shape, rate)
	if late >= early {
		t.Errorf("survival at age 10000 (%v) should be lower than at age 10 (%v)", late, early)
	}
}

func TestLogGammaSurvival_AtZeroIsLogOne(t *testing.T) {
	if got := logGammaSurvival(0, 2, 0.02); got != 0 {
		t.Errorf("logGammaSurvival(0,...) = %v, want 0", got)
	}
}

func TestUpperIncompleteGammaRegularized_MatchesSurvivalIdentity(t *testing.T) {
	// Q(a,x) + P(a,x) = 1 for any a,x>0; test that Q stays in [0,1].
	q := upperIncompleteGammaRegularized(3, 5)
	if q < 0 || q > 1 {
		t.Errorf("Q(3,5) = %v, want in [0,1]", q)
	}
}

func TestBetaBernoulliLogLikelihoods_ObservedVsNotSumToLogOne(t *testing.T) {
	priors := testPriors()
	field := func(cp config.ClassPriors) config.BetaParams { return cp.Orphan }
	obs := betaBernoulliLogLikelihoods(priors, "", true, field)
	notObs := betaBernoulliLogLikelihoods(priors, "", false, field)
	for i := range obs {
		sum := math.Exp(obs[i]) + math.Exp(notObs[i])
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("class %d: P(observed)+P(not observed) = %v, want 1", i, sum)
		}
	}
}

func TestCategoryLogLikelihoods_UnknownCategoryUsesFloor(t *testing.T) {
	priors := testPriors()
	ll := categoryLogLikelihoods(priors, "", "never-seen-category")
	for i, v := range ll {
		if math.IsInf(v, -1) || math.IsNaN(v) {
			t.Errorf("class %d: ll = %v, want finite floor value", i, v)
		}
	}
}

func TestSelectRuntimeSource(t *testing.T) {
	if got := selectRuntimeSource(true, true); got != runtimeSourceHazard {
		t.Errorf("alive+known: got %q, want hazard", got)
	}
	if got := selectRuntimeSource(false, true); got != runtimeSourceNaive {
		t.Errorf("dead+known: got %q, want naive", got)
	}
	if got := selectRuntimeSource(true, false); got != runtimeSourceNaive {
		t.Errorf("unknown liveness: got %q, want naive", got)
	}
}
