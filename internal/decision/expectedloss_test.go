package decision

import (
	"math"
	"testing"

	"proctriage/internal/config"
)

func TestExpectedLoss_CertainUsefulFavorsNone(t *testing.T) {
	policy := config.DefaultPolicy()
	probs := []float64{1, 0, 0, 0} // certainly useful
	el := ExpectedLoss(probs, policy.Loss)
	if MinimalLossAction(el) != config.ActionIndex(config.ActionNone) {
		t.Errorf("minimal-loss action = %q, want none for a certainly-useful process", config.Actions[MinimalLossAction(el)])
	}
}

func TestExpectedLoss_CertainZombieFavorsTerminate(t *testing.T) {
	policy := config.DefaultPolicy()
	probs := []float64{0, 0, 0, 1} // certainly zombie
	el := ExpectedLoss(probs, policy.Loss)
	if MinimalLossAction(el) != config.ActionIndex(config.ActionTerminate) {
		t.Errorf("minimal-loss action = %q, want terminate for a certainly-zombie process", config.Actions[MinimalLossAction(el)])
	}
}

func TestExpectedLoss_MatchesManualWeightedSum(t *testing.T) {
	loss := config.LossMatrix{
		{0, 1},
		{5, 0},
		{2, 3},
		{4, 1},
	}
	probs := []float64{0.3, 0.7, 0, 0}
	el := ExpectedLoss(probs, loss)
	// every class has a row, since a missing row reads as +Inf for every
	// action; only two actions exist in this matrix and config.Actions has 5,
	// so extra columns read as +Inf and are excluded from this assertion.
	want0 := 0.3*loss.Loss(0, 0) + 0.7*loss.Loss(1, 0)
	if math.Abs(el[0]-want0) > 1e-12 {
		t.Errorf("el[0] = %v, want %v", el[0], want0)
	}
}
