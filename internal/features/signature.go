// Package features derives the feature bundle inference consumes from raw
// process samples: signature matching, categorization, and orphan
// evaluation (spec.md §4.2).
package features

import (
	"regexp"

	"proctriage/internal/config"
)

// Category is the process-category taxonomy signature matching and the
// categorization decision table both resolve to (spec.md §4.2).
type Category string

const (
	CategoryTestRunner    Category = "test-runner"
	CategoryDevServer     Category = "dev-server"
	CategoryAgentShell    Category = "agent-shell"
	CategoryEditor        Category = "editor"
	CategorySystemService Category = "system-service"
	CategoryOther         Category = "other"
)

// PatternGroup is one AND-ed group of regular expressions checked against a
// specific candidate field (process name, argv, env, cwd, socket paths,
// parent name). A group "fires" when at least one of its patterns matches.
type PatternGroup struct {
	Field    string   `json:"field" yaml:"field"` // "comm", "argv", "env", "cwd", "socket", "parent"
	Patterns []string `json:"patterns" yaml:"patterns"`
	compiled []*regexp.Regexp
}

// Signature is a named pattern-group rule with priority and prior overrides
// (spec.md §3, "signature match record"; §4.2 "Signature matching").
type Signature struct {
	Name             string               `json:"name" yaml:"name"`
	Category         Category             `json:"category" yaml:"category"`
	Priority         int                  `json:"priority" yaml:"priority"`
	ConfidenceWeight float64              `json:"confidence_weight" yaml:"confidence_weight"`
	MinMatches       int                  `json:"min_matches" yaml:"min_matches"`
	Groups           []PatternGroup       `json:"groups" yaml:"groups"`
	PriorsOverrides  map[config.ClassName]config.ClassPriors `json:"priors_overrides,omitempty" yaml:"priors_overrides,omitempty"`
}

// Candidate is the subset of a process sample signature matching reasons
// over. It is deliberately narrower than procfs.ProcessSample so this
// package has no dependency on the collector's concrete sample shape.
type Candidate struct {
	Comm       string
	Argv       []string
	Env        []string
	Cwd        string
	Sockets    []string
	ParentComm string
}

// compile lazily compiles every pattern in every group of a signature,
// returning an error naming the first invalid pattern. Callers compile once
// at load time via CompileSignatures rather than per-match.
func (s *Signature) compile() error {
	for gi := range s.Groups {
		g := &s.Groups[gi]
		g.compiled = make([]*regexp.Regexp, 0, len(g.Patterns))
		for _, p := range g.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return err
			}
			g.compiled = append(g.compiled, re)
		}
	}
	return nil
}

// CompileSignatures compiles every signature's patterns in place, failing
// fast on the first malformed regular expression in a configuration file.
func CompileSignatures(sigs []Signature) error {
	for i := range sigs {
		if err := sigs[i].compile(); err != nil {
			return err
		}
	}
	return nil
}

func fieldValue(c Candidate, field string) []string {
	switch field {
	case "comm":
		return []string{c.Comm}
	case "argv":
		return c.Argv
	case "env":
		return c.Env
	case "cwd":
		return []string{c.Cwd}
	case "socket":
		return c.Sockets
	case "parent":
		return []string{c.ParentComm}
	default:
		return nil
	}
}

// groupFires reports whether at least one pattern in the group matches at
// least one value drawn from the group's target field.
func groupFires(g PatternGroup, c Candidate) bool {
	values := fieldValue(c, g.Field)
	for _, v := range values {
		for _, re := range g.compiled {
			if re.MatchString(v) {
				return true
			}
		}
	}
	return false
}

// Match is one signature's evaluation outcome against a candidate.
type Match struct {
	Signature    *Signature
	GroupsFired  int
	Score        float64 // sum of fired-group weight (1 per group) × confidence_weight
}

// evaluate scores a signature against a candidate. A signature only
// qualifies (min_matches satisfied) when GroupsFired >= max(1, MinMatches).
func evaluate(sig *Signature, c Candidate) (Match, bool) {
	fired := 0
	for _, g := range sig.Groups {
		if groupFires(g, c) {
			fired++
		}
	}
	minRequired := sig.MinMatches
	if minRequired < 1 {
		minRequired = 1
	}
	if fired < minRequired {
		return Match{}, false
	}
	return Match{
		Signature:   sig,
		GroupsFired: fired,
		Score:       float64(fired) * sig.ConfidenceWeight,
	}, true
}

// BestMatch resolves conflicts across every qualifying signature: highest
// weighted score wins, ties broken by higher Priority (spec.md §4.2
// "Conflict resolution"). Returns (nil, false) when no signature qualifies.
func BestMatch(sigs []Signature, c Candidate) (*Match, bool) {
	var best *Match
	for i := range sigs {
		m, ok := evaluate(&sigs[i], c)
		if !ok {
			continue
		}
		if best == nil ||
			m.Score > best.Score ||
			(m.Score == best.Score && m.Signature.Priority > best.Signature.Priority) {
			mCopy := m
			best = &mCopy
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
