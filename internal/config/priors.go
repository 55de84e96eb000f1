package config

import "fmt"

// CurrentPriorsMajor is the schema major version for the priors document.
const CurrentPriorsMajor = 1

// ClassName is one of the four posterior classes (spec.md §3).
type ClassName string

const (
	ClassUseful     ClassName = "useful"
	ClassUsefulBad  ClassName = "useful_bad"
	ClassAbandoned  ClassName = "abandoned"
	ClassZombie     ClassName = "zombie"
)

// Classes is the fixed, ordered class list the inference engine iterates
// over. Order matters: index positions are used as the canonical vector
// layout for posterior/probability slices throughout internal/inference and
// internal/decision.
var Classes = []ClassName{ClassUseful, ClassUsefulBad, ClassAbandoned, ClassZombie}

// ClassIndex returns the fixed index of a class name, or -1 if unknown.
func ClassIndex(c ClassName) int {
	for i, cc := range Classes {
		if cc == c {
			return i
		}
	}
	return -1
}

// BetaParams is a Beta-Bernoulli / Beta-Binomial conjugate prior.
type BetaParams struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
}

// GammaParams is a Gamma prior over a hazard rate (runtime/age evidence).
type GammaParams struct {
	Shape float64 `json:"shape" yaml:"shape"`
	Rate  float64 `json:"rate" yaml:"rate"`
}

// DirichletParams is a Dirichlet-Categorical prior over process categories.
// Keys are category names (test-runner, dev-server, agent-shell, editor,
// system-service, other); values are pseudo-counts.
type DirichletParams map[string]float64

// ClassPriors bundles every evidence term's per-class hyperparameters plus
// the class's prior mixing weight (log prior odds base).
type ClassPriors struct {
	PriorWeight float64         `json:"prior_weight" yaml:"prior_weight"`
	CPU         BetaParams      `json:"cpu" yaml:"cpu"`
	Runtime     GammaParams     `json:"runtime" yaml:"runtime"`
	Orphan      BetaParams      `json:"orphan" yaml:"orphan"`
	TTY         BetaParams      `json:"tty" yaml:"tty"`
	WriteFD     BetaParams      `json:"write_fd" yaml:"write_fd"`
	Category    DirichletParams `json:"category" yaml:"category"`
}

// Priors is the full per-class Beta/Gamma/Dirichlet hyperparameter table,
// plus category-conditional prior overrides and parameter-space bounds
// (spec.md §3, "Priors Configuration").
type Priors struct {
	SchemaVersion       string                          `json:"schema_version" yaml:"schema_version"`
	ByClass             map[ClassName]ClassPriors       `json:"by_class" yaml:"by_class"`
	CategoryConditional map[string]map[ClassName]ClassPriors `json:"category_conditional,omitempty" yaml:"category_conditional,omitempty"`
	Bounds              ParamBounds                     `json:"bounds" yaml:"bounds"`
}

// ParamBounds constrains hyperparameter values so a malformed or malicious
// priors override cannot push the classifier into a degenerate regime.
type ParamBounds struct {
	MinAlphaBeta float64 `json:"min_alpha_beta" yaml:"min_alpha_beta"`
	MaxAlphaBeta float64 `json:"max_alpha_beta" yaml:"max_alpha_beta"`
	MinShapeRate float64 `json:"min_shape_rate" yaml:"min_shape_rate"`
	MaxShapeRate float64 `json:"max_shape_rate" yaml:"max_shape_rate"`
}

// Clamp restricts a Beta/Gamma-style hyperparameter pair to the configured
// bounds, defending the log-domain math from zero or unbounded parameters.
func (b ParamBounds) Clamp(v float64, isRate bool) float64 {
	lo, hi := b.MinAlphaBeta, b.MaxAlphaBeta
	if isRate {
		lo, hi = b.MinShapeRate, b.MaxShapeRate
	}
	if lo <= 0 {
		lo = 1e-3
	}
	if hi <= 0 {
		hi = 1e6
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ForClass resolves the effective ClassPriors for a class, preferring a
// category-conditional override when category is non-empty and present.
func (p Priors) ForClass(class ClassName, category string) (ClassPriors, error) {
	if category != "" {
		if byClass, ok := p.CategoryConditional[category]; ok {
			if cp, ok := byClass[class]; ok {
				return cp, nil
			}
		}
	}
	cp, ok := p.ByClass[class]
	if !ok {
		return ClassPriors{}, fmt.Errorf("no priors configured for class %q", class)
	}
	return cp, nil
}

// DefaultPriors returns a conservative built-in prior table used when no
// priors document resolves from flag/env/XDG. Values are chosen so that,
// absent evidence, "useful" dominates the prior mass — the safe default for
// a system that can kill processes.
func DefaultPriors() Priors {
	mk := func(priorWeight float64, cpuA, cpuB, rShape, rRate, orphA, orphB, ttyA, ttyB, wfA, wfB float64, cat DirichletParams) ClassPriors {
		return ClassPriors{
			PriorWeight: priorWeight,
			CPU:         BetaParams{Alpha: cpuA, Beta: cpuB},
			Runtime:     GammaParams{Shape: rShape, Rate: rRate},
			Orphan:      BetaParams{Alpha: orphA, Beta: orphB},
			TTY:         BetaParams{Alpha: ttyA, Beta: ttyB},
			WriteFD:     BetaParams{Alpha: wfA, Beta: wfB},
			Category:    cat,
		}
	}
	uniformCat := DirichletParams{
		"test-runner": 1, "dev-server": 1, "agent-shell": 1,
		"editor": 1, "system-service": 1, "other": 1,
	}
	return Priors{
		SchemaVersion: "1.0",
		ByClass: map[ClassName]ClassPriors{
			ClassUseful:    mk(0.55, 6, 2, 2.0, 0.02, 1, 8, 6, 2, 1, 6, uniformCat),
			ClassUsefulBad: mk(0.15, 5, 3, 1.5, 0.03, 1, 6, 3, 3, 2, 4, uniformCat),
			ClassAbandoned: mk(0.20, 2, 6, 1.2, 0.05, 5, 2, 2, 6, 1, 8, uniformCat),
			ClassZombie:    mk(0.10, 1, 8, 1.0, 0.10, 6, 1, 1, 8, 1, 10, uniformCat),
		},
		Bounds: ParamBounds{MinAlphaBeta: 0.05, MaxAlphaBeta: 1000, MinShapeRate: 0.001, MaxShapeRate: 1000},
	}
}

// LoadPriors resolves the priors document via flag → PROCTRIAGE_PRIORS env →
// XDG → built-in default.
func LoadPriors(flagPath string) (Priors, Source, error) {
	src := resolvePath(flagPath, "PROCTRIAGE_PRIORS", "priors.yaml")
	var p Priors
	found, err := loadDocument("priors", src, CurrentPriorsMajor, &p)
	if err != nil {
		return Priors{}, src, err
	}
	if !found {
		return DefaultPriors(), src, nil
	}
	return p, src, nil
}
