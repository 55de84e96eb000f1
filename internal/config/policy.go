package config

import (
	"fmt"
	"math"
)

// CurrentPolicyMajor is the schema major version for the policy document.
const CurrentPolicyMajor = 1

// ActionName is one of the executor's action kinds (spec.md §4.3).
type ActionName string

const (
	ActionNone      ActionName = "none"
	ActionRenice    ActionName = "renice"
	ActionPause     ActionName = "pause"
	ActionThrottle  ActionName = "throttle"
	ActionTerminate ActionName = "terminate"
)

// Actions is the fixed, ordered action list mirroring Classes: index
// positions give the canonical layout of the loss matrix's action axis.
// Renice sits between none and pause: it is the mildest intervention (a
// priority nice, not a stop or signal) and the fallback the data-loss gate
// leaves admissible alongside pause when destructive actions are blocked
// (spec.md §4.4).
var Actions = []ActionName{ActionNone, ActionRenice, ActionPause, ActionThrottle, ActionTerminate}

// ActionIndex returns the fixed index of an action name, or -1 if unknown.
func ActionIndex(a ActionName) int {
	for i, aa := range Actions {
		if aa == a {
			return i
		}
	}
	return -1
}

// LossMatrix is L[class][action]: the cost of taking action when the true
// class is class (spec.md §4.3, "expected loss minimization"). Rows are
// indexed by ClassIndex, columns by ActionIndex.
type LossMatrix [][]float64

// Loss returns L[class][action], defaulting to +Inf for an unpopulated cell
// so a malformed matrix can never be silently read as zero-cost.
func (m LossMatrix) Loss(classIdx, actionIdx int) float64 {
	if classIdx < 0 || classIdx >= len(m) {
		return math.Inf(1)
	}
	row := m[classIdx]
	if actionIdx < 0 || actionIdx >= len(row) {
		return math.Inf(1)
	}
	return row[actionIdx]
}

// Guardrails bound how aggressively one run may act, independent of what the
// decision engine's expected-loss computation alone would select.
type Guardrails struct {
	MaxTerminatesPerRun      int            `json:"max_terminates_per_run" yaml:"max_terminates_per_run"`
	MaxTerminatesPerCategory map[string]int `json:"max_terminates_per_category,omitempty" yaml:"max_terminates_per_category,omitempty"`
	ProtectedPatterns        []string       `json:"protected_patterns" yaml:"protected_patterns"`
	ProtectedUIDs            []int          `json:"protected_uids" yaml:"protected_uids"`
	SessionSafetyPatterns    []string       `json:"session_safety_patterns" yaml:"session_safety_patterns"`
}

// FDRConfig configures the Benjamini-Hochberg-style e-value gate and its
// alpha-investing wealth process (spec.md §4.3, "FDR gate").
type FDRConfig struct {
	TargetAlpha float64 `json:"target_alpha" yaml:"target_alpha"`
	Pooling     string  `json:"pooling" yaml:"pooling"` // "global", "per_category", "per_signature"
	InitialWealth float64 `json:"initial_wealth" yaml:"initial_wealth"`
}

// DataLossRule flags actions that risk destroying unflushed state, keyed by
// the evidence signal that trips it (e.g. "has_write_fd", "has_open_socket").
type DataLossRule struct {
	Signal string     `json:"signal" yaml:"signal"`
	Blocks ActionName `json:"blocks" yaml:"blocks"`
}

// PrivilegeRule restricts actions against processes running with elevated
// privilege or under a different UID than the operator.
type PrivilegeRule struct {
	RequireSudo    bool `json:"require_sudo" yaml:"require_sudo"`
	BlockCrossUser bool `json:"block_cross_user" yaml:"block_cross_user"`
}

// ConfidenceFloor is the minimum posterior probability the decision engine
// must have in the selected class before terminate-class actions are
// eligible at all, independent of expected loss.
type ConfidenceFloor struct {
	MinPosterior      float64 `json:"min_posterior" yaml:"min_posterior"`
	RequireSingleton  bool    `json:"require_singleton_conformal_set" yaml:"require_singleton_conformal_set"`
}

// Policy is the decision engine's full safety and loss configuration
// (spec.md §3, "Policy Configuration").
type Policy struct {
	SchemaVersion   string          `json:"schema_version" yaml:"schema_version"`
	Loss            LossMatrix      `json:"loss_matrix" yaml:"loss_matrix"`
	Guardrails      Guardrails      `json:"guardrails" yaml:"guardrails"`
	FDR             FDRConfig       `json:"fdr" yaml:"fdr"`
	DataLossRules   []DataLossRule  `json:"data_loss_rules" yaml:"data_loss_rules"`
	Privilege       PrivilegeRule   `json:"privilege" yaml:"privilege"`
	ConfidenceFloor ConfidenceFloor `json:"confidence_floor" yaml:"confidence_floor"`
	Escalation      []ActionName    `json:"escalation" yaml:"escalation"`
	ConformalAlpha  float64         `json:"conformal_alpha" yaml:"conformal_alpha"` // target miscoverage rate for the conformal prediction set (spec.md §4.3 "configured α")
}

// Validate checks structural invariants the decision engine relies on:
// a loss matrix sized to Classes x Actions, and a non-empty
// escalation ladder.
func (p Policy) Validate() error {
	if len(p.Loss) != len(Classes) {
		return fmt.Errorf("policy: loss_matrix has %d rows, want %d (one per class)", len(p.Loss), len(Classes))
	}
	for i, row := range p.Loss {
		if len(row) != len(Actions) {
			return fmt.Errorf("policy: loss_matrix row %d has %d columns, want %d (one per action)", i, len(row), len(Actions))
		}
	}
	if len(p.Escalation) == 0 {
		return fmt.Errorf("policy: escalation ladder must not be empty")
	}
	return nil
}

// DefaultPolicy returns a conservative built-in policy: terminating a
// genuinely useful process costs far more than leaving a zombie running one
// extra cycle, so the loss matrix is asymmetric in favor of inaction.
func DefaultPolicy() Policy {
	// rows: useful, useful_bad, abandoned, zombie
	// cols: none, renice, pause, throttle, terminate
	loss := LossMatrix{
		{0, 1, 2, 4, 100},
		{1, 1, 1, 2, 20},
		{5, 4, 3, 2, 1},
		{8, 6, 4, 3, 0},
	}
	return Policy{
		SchemaVersion: "1.0",
		Loss:          loss,
		Guardrails: Guardrails{
			MaxTerminatesPerRun:   10,
			ProtectedPatterns:     []string{"^systemd$", "^init$", "^sshd$", "^Xorg$", "^launchd$"},
			ProtectedUIDs:         []int{0},
			SessionSafetyPatterns: []string{"tmux", "screen"},
		},
		FDR: FDRConfig{TargetAlpha: 0.1, Pooling: "per_category", InitialWealth: 0.1},
		// Both throttle and terminate are destructive enough to risk unflushed
		// writes; renice and pause stay admissible fallbacks (spec.md §4.4).
		DataLossRules: []DataLossRule{
			{Signal: "has_write_fd", Blocks: ActionTerminate},
			{Signal: "has_write_fd", Blocks: ActionThrottle},
			{Signal: "has_open_socket", Blocks: ActionTerminate},
			{Signal: "has_open_socket", Blocks: ActionThrottle},
		},
		Privilege:       PrivilegeRule{RequireSudo: true, BlockCrossUser: true},
		ConfidenceFloor: ConfidenceFloor{MinPosterior: 0.7, RequireSingleton: true},
		Escalation:      []ActionName{ActionRenice, ActionPause, ActionThrottle, ActionTerminate},
		ConformalAlpha:  0.1,
	}
}

// LoadPolicy resolves the policy document via flag → PROCTRIAGE_POLICY env →
// XDG → built-in default, validating structural invariants either way.
func LoadPolicy(flagPath string) (Policy, Source, error) {
	src := resolvePath(flagPath, "PROCTRIAGE_POLICY", "policy.yaml")
	var p Policy
	found, err := loadDocument("policy", src, CurrentPolicyMajor, &p)
	if err != nil {
		return Policy{}, src, err
	}
	if !found {
		p = DefaultPolicy()
	}
	if err := p.Validate(); err != nil {
		return Policy{}, src, err
	}
	return p, src, nil
}
