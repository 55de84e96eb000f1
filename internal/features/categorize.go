package features

import (
	"regexp"
	"strings"

	"proctriage/internal/procfs"
)

// categoryRule is one row of the built-in categorization decision table
// (spec.md §4.2 "Categorization"), independent of the configurable
// Signature set.
type categoryRule struct {
	category   Category
	commRe     *regexp.Regexp
	cwdKinds   map[procfs.CwdKind]bool
}

var categoryTable = []categoryRule{
	{category: CategoryTestRunner, commRe: regexp.MustCompile(`(?i)^(pytest|go test|jest|mocha|rspec|cargo-test)`)},
	{category: CategoryDevServer, commRe: regexp.MustCompile(`(?i)^(node|webpack|vite|next|rails s|manage\.py)`)},
	{category: CategoryAgentShell, commRe: regexp.MustCompile(`(?i)^(claude|agent|copilot|codex)`)},
	{category: CategoryEditor, commRe: regexp.MustCompile(`(?i)^(vim|nvim|emacs|code|helix)`)},
	{category: CategorySystemService, cwdKinds: map[procfs.CwdKind]bool{procfs.CwdSystem: true}},
}

// Categorize applies the command-heuristic and cwd-class decision table
// independently of signature matching (spec.md §4.2). It always returns a
// category, defaulting to "other" when no rule fires.
func Categorize(comm string, cwdKind procfs.CwdKind) Category {
	comm = strings.TrimSpace(comm)
	for _, rule := range categoryTable {
		if rule.commRe != nil && rule.commRe.MatchString(comm) {
			return rule.category
		}
	}
	for _, rule := range categoryTable {
		if rule.cwdKinds != nil && rule.cwdKinds[cwdKind] {
			return rule.category
		}
	}
	return CategoryOther
}
