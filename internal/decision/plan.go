package decision

import (
	"proctriage/internal/config"
	"proctriage/internal/identity"
)

// PlanStep is one candidate's final decision, including the audit trail of
// why it landed there (spec.md §3 "Action Plan Step").
type PlanStep struct {
	Identity       identity.Tuple    `json:"identity"`
	PID            int               `json:"pid"`
	Comm           string            `json:"comm"`
	MAPClass       config.ClassName  `json:"map_class"`
	RequestedAction config.ActionName `json:"requested_action"` // the expected-loss minimizer, before gating
	SelectedAction config.ActionName `json:"selected_action"`   // what will actually be dispatched
	ExpectedLoss   []float64         `json:"expected_loss"`
	GateVerdict    GateVerdict       `json:"gate_verdict"`
	EValue         float64           `json:"e_value"`
	FDRSelected    bool              `json:"fdr_selected"`
	SupervisorRoute string           `json:"supervisor_route,omitempty"` // "signal" or "supervisor-stop"
	Downgraded     bool              `json:"downgraded"`
	DowngradeReason string           `json:"downgrade_reason,omitempty"`
}

// Plan is the full run's staged action plan plus the alpha-investing wealth
// state after every step consumed its share of the safety budget.
type Plan struct {
	Steps       []PlanStep       `json:"steps"`
	WealthAfter AlphaWealthState `json:"wealth_after"`
	// RequiresRescan is set by the executor, after the fact, when a step's
	// identity revalidation found the observed process no longer matches
	// what this plan captured (spec.md §4.5 step 1, §8.4 "plan artifact
	// marked requires_rescan=true"): the plan was built against stale
	// process-table state and a fresh scan should run before acting on
	// whatever of it remains unexecuted.
	RequiresRescan bool `json:"requires_rescan,omitempty"`
}

// Builder assembles a Plan from candidate contexts, applying expected-loss
// selection, the FDR gate, guardrail counters, and the ordered safety gates
// in that order (spec.md §4.4).
type Builder struct {
	Policy    config.Policy
	FDRMethod FDRMethod
	Wealth    AlphaWealthState
}

// NewBuilder seeds a Builder from policy and a starting wealth state (pass
// the prior run's persisted AlphaWealthState, or NewAlphaWealthState for a
// fresh host).
func NewBuilder(policy config.Policy, method FDRMethod, wealth AlphaWealthState) *Builder {
	return &Builder{Policy: policy, FDRMethod: method, Wealth: wealth}
}

// Build computes the plan for every candidate. Candidates whose
// minimal-loss action is "terminate" are additionally routed through the
// FDR gate as one pooled batch: a candidate keeps the terminate action only
// if the e-value selection rule clears it or, failing that, its alpha-investing
// wealth test rejects; everyone else is downgraded down the escalation
// ladder toward "none".
func (b *Builder) Build(candidates []CandidateContext) Plan {
	steps := make([]PlanStep, len(candidates))
	requestedTerminate := make([]int, 0, len(candidates)) // indices into candidates/steps requesting terminate
	eValues := make([]float64, 0, len(candidates))

	for i, ctx := range candidates {
		probs := probsSlice(ctx.Result.ClassProbs)
		el := ExpectedLoss(probs, b.Policy.Loss)
		requested := config.Actions[MinimalLossAction(el)]

		steps[i] = PlanStep{
			Identity:        ctx.Identity,
			PID:             ctx.Identity.PID,
			Comm:            ctx.Comm,
			MAPClass:        ctx.Result.MAPClass,
			RequestedAction: requested,
			ExpectedLoss:    el,
			EValue:          EValue(ctx.Result.ClassProbs),
		}

		if requested == config.ActionTerminate {
			requestedTerminate = append(requestedTerminate, i)
			eValues = append(eValues, steps[i].EValue)
		}
	}

	selection := SelectFDR(eValues, b.Policy.FDR.TargetAlpha, b.FDRMethod)
	selectedSet := make(map[int]bool, len(selection.SelectedIdx))
	for _, localIdx := range selection.SelectedIdx {
		selectedSet[requestedTerminate[localIdx]] = true
	}
	for local, globalIdx := range requestedTerminate {
		if selectedSet[globalIdx] {
			continue
		}
		reject, _ := b.Wealth.Spend(AlphaInvestingPolicyFromConfig(b.Policy.FDR), eValues[local])
		if reject {
			selectedSet[globalIdx] = true
		}
	}

	terminateCounts := map[string]int{}
	var terminatesThisRun int

	for i, ctx := range candidates {
		step := &steps[i]
		step.FDRSelected = step.RequestedAction != config.ActionTerminate || selectedSet[i]

		action := step.RequestedAction
		if action == config.ActionTerminate && !step.FDRSelected {
			action = downgrade(b.Policy.Escalation, action)
			step.Downgraded = true
			step.DowngradeReason = "fdr gate did not select this candidate"
		}

		category := string(ctx.Bundle.Category)
		for {
			if action == config.ActionTerminate {
				if b.Policy.Guardrails.MaxTerminatesPerRun > 0 && terminatesThisRun >= b.Policy.Guardrails.MaxTerminatesPerRun {
					action = downgrade(b.Policy.Escalation, action)
					step.Downgraded = true
					step.DowngradeReason = "max_terminates_per_run guardrail reached"
					continue
				}
				if limit, ok := b.Policy.Guardrails.MaxTerminatesPerCategory[category]; ok && terminateCounts[category] >= limit {
					action = downgrade(b.Policy.Escalation, action)
					step.Downgraded = true
					step.DowngradeReason = "max_terminates_per_category guardrail reached"
					continue
				}
			}

			verdict := Evaluate(ctx, action, b.Policy)
			if verdict.Allowed {
				step.GateVerdict = verdict
				break
			}
			step.Downgraded = true
			step.DowngradeReason = verdict.Reason
			if action == config.ActionNone {
				step.GateVerdict = verdict
				break
			}
			action = downgrade(b.Policy.Escalation, action)
		}

		step.SelectedAction = action
		if action == config.ActionTerminate {
			terminatesThisRun++
			terminateCounts[category]++
		}
		if action == config.ActionTerminate || action == config.ActionPause {
			if ctx.SupervisorAttributed {
				step.SupervisorRoute = "supervisor-stop"
			} else {
				step.SupervisorRoute = "signal"
			}
		}
	}

	return Plan{Steps: steps, WealthAfter: b.Wealth}
}

// downgrade returns the next-less-aggressive action on the escalation
// ladder, or "none" once the ladder is exhausted.
func downgrade(ladder []config.ActionName, action config.ActionName) config.ActionName {
	for i, a := range ladder {
		if a == action {
			if i == 0 {
				return config.ActionNone
			}
			return ladder[i-1]
		}
	}
	return config.ActionNone
}

func probsSlice(m map[config.ClassName]float64) []float64 {
	out := make([]float64, len(config.Classes))
	for i, c := range config.Classes {
		out[i] = m[c]
	}
	return out
}
