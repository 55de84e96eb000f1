// Package session implements the durable, resumable, redactable record of
// one process-triage run (spec.md §4.6, "Session Store").
package session

import (
	"fmt"
	"time"

	"proctriage/internal/config"
)

// State is a Session's lifecycle typestate (spec.md §3, "Session").
type State string

const (
	StateActive    State = "active"
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateArchived  State = "archived"
)

// validNext enumerates the allowed forward transitions. Sessions never move
// backward and never skip a terminal state once reached.
var validNext = map[State][]State{
	StateActive:    {StatePending, StateCompleted},
	StatePending:   {StateCompleted},
	StateCompleted: {StateArchived},
	StateArchived:  {},
}

// Terminal reports whether s is a state after which the session is
// immutable (spec.md §3: "Sessions are immutable after reaching terminal
// state").
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateArchived
}

// CanTransitionTo reports whether next is a legal forward transition from s.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validNext[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StageName is one of the six named pipeline-stage artifacts a session
// persists (spec.md §4.6, "Layout").
type StageName string

const (
	StageScanQuick StageName = "scan_quick"
	StageScanDeep  StageName = "scan_deep"
	StageInference StageName = "inference"
	StagePlan      StageName = "plan"
	StageExecution StageName = "execution"
	StageOutcomes  StageName = "outcomes"
)

// stageOrder is the pipeline's declared sequence, used by Resume to find the
// next stage to re-enter.
var stageOrder = []StageName{StageScanQuick, StageScanDeep, StageInference, StagePlan, StageExecution, StageOutcomes}

// Metadata is the session's own top-level record (metadata.json), separate
// from the per-stage artifacts. It snapshots the capabilities manifest and
// the resolved priors/policy/redaction documents at session-start time, as a
// record of the configuration the session started under. `pt resume` and the
// stage functions do not read this snapshot back: each invocation runs under
// the configuration it resolves itself.
type Metadata struct {
	SessionID    string                 `json:"session_id"`
	State        State                  `json:"state"`
	StartedAt    time.Time              `json:"started_at"`
	LastRunID    string                 `json:"last_run_id"`
	Capabilities config.Capabilities    `json:"capabilities"`
	Priors       config.Priors          `json:"priors"`
	PriorsSource config.Source          `json:"priors_source"`
	Policy       config.Policy          `json:"policy"`
	PolicySource config.Source          `json:"policy_source"`
	Redaction    config.RedactionPolicy `json:"redaction"`
	RedactionSrc config.Source          `json:"redaction_source"`
}

// Transition validates and applies a state change, returning an error for
// any transition not present in validNext (including attempts to mutate an
// already-terminal session).
func (m *Metadata) Transition(next State) error {
	if m.State.Terminal() {
		return fmt.Errorf("session: %s is terminal, cannot transition to %s", m.State, next)
	}
	if !m.State.CanTransitionTo(next) {
		return fmt.Errorf("session: illegal transition %s -> %s", m.State, next)
	}
	m.State = next
	return nil
}
