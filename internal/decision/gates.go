package decision

import (
	"regexp"

	"proctriage/internal/config"
	"proctriage/internal/features"
	"proctriage/internal/identity"
	"proctriage/internal/inference"
)

// CandidateContext is everything a gate needs about one candidate: its
// identity, the raw evidence a gate must check directly (comm, uid, open
// sockets), and its posterior result.
type CandidateContext struct {
	Identity    identity.Tuple
	Comm        string
	OperatorUID int // the uid the executor process itself runs as
	Bundle      features.Bundle
	Result      inference.Result
	InTmuxOrScreen bool // session-safety signal: process lives inside a detected multiplexer session
	SupervisorAttributed bool // true when the deep-scan probe attributed this process to a supervisor unit
}

// GateVerdict is the outcome of running every ordered safety gate against a
// candidate action (spec.md §4.4 "safety gates", first-failing-gate wins).
type GateVerdict struct {
	Allowed    bool
	FailedGate string
	Reason     string
}

// gateFunc is one named safety gate. It only needs to veto actions that are
// unsafe regardless of expected loss; it never picks an action itself.
type gateFunc struct {
	name string
	veto func(ctx CandidateContext, action config.ActionName, policy config.Policy) (blocked bool, reason string)
}

var orderedGates = []gateFunc{
	{"protected", protectedGate},
	{"session_safety", sessionSafetyGate},
	{"privilege", privilegeGate},
	{"data_loss", dataLossGate},
	{"confidence_floor", confidenceFloorGate},
	{"conformal_singleton", conformalSingletonGate},
}

// Evaluate runs every safety gate, in order, against a candidate action.
// The first gate to veto wins; a "none" action is never vetoed since it is
// always safe by construction.
func Evaluate(ctx CandidateContext, action config.ActionName, policy config.Policy) GateVerdict {
	if action == config.ActionNone {
		return GateVerdict{Allowed: true}
	}
	for _, g := range orderedGates {
		if blocked, reason := g.veto(ctx, action, policy); blocked {
			return GateVerdict{Allowed: false, FailedGate: g.name, Reason: reason}
		}
	}
	return GateVerdict{Allowed: true}
}

func protectedGate(ctx CandidateContext, action config.ActionName, policy config.Policy) (bool, string) {
	for _, pat := range policy.Guardrails.ProtectedPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			continue
		}
		if re.MatchString(ctx.Comm) {
			return true, "comm matches protected pattern " + pat
		}
	}
	for _, uid := range policy.Guardrails.ProtectedUIDs {
		if ctx.Identity.UID == uid {
			return true, "process uid is in the protected uid list"
		}
	}
	return false, ""
}

func sessionSafetyGate(ctx CandidateContext, action config.ActionName, policy config.Policy) (bool, string) {
	if action != config.ActionTerminate {
		return false, ""
	}
	if ctx.InTmuxOrScreen {
		return true, "process runs inside a detected terminal multiplexer session"
	}
	return false, ""
}

func privilegeGate(ctx CandidateContext, action config.ActionName, policy config.Policy) (bool, string) {
	if policy.Privilege.BlockCrossUser && ctx.Identity.UID != ctx.OperatorUID {
		return true, "process uid differs from the operator uid and cross-user actions are blocked"
	}
	return false, ""
}

func dataLossGate(ctx CandidateContext, action config.ActionName, policy config.Policy) (bool, string) {
	for _, rule := range policy.DataLossRules {
		if rule.Blocks != action {
			continue
		}
		switch rule.Signal {
		case "has_write_fd":
			if ctx.Bundle.HasWriteFD {
				return true, "open writable file descriptor risks unflushed data loss"
			}
		case "has_open_socket":
			if ctx.Bundle.HasOpenSocket {
				return true, "open socket risks dropping an in-flight connection"
			}
		}
	}
	return false, ""
}

// isDestructive reports whether action is aggressive enough to require the
// evidentiary gates below. The data-loss gate (policy.go's DataLossRules)
// already blocks both throttle and terminate on the same signals, so the
// confidence floor and conformal singleton requirement match that same
// destructive/non-destructive boundary rather than covering terminate alone
// (spec.md §4.4 gates 4-5, "destructive actions").
func isDestructive(action config.ActionName) bool {
	return action == config.ActionThrottle || action == config.ActionTerminate
}

func confidenceFloorGate(ctx CandidateContext, action config.ActionName, policy config.Policy) (bool, string) {
	if !isDestructive(action) {
		return false, ""
	}
	p := ctx.Result.ClassProbs[ctx.Result.MAPClass]
	if p < policy.ConfidenceFloor.MinPosterior {
		return true, "MAP posterior below the configured confidence floor for destructive actions"
	}
	return false, ""
}

func conformalSingletonGate(ctx CandidateContext, action config.ActionName, policy config.Policy) (bool, string) {
	if !isDestructive(action) || !policy.ConfidenceFloor.RequireSingleton {
		return false, ""
	}
	if len(ctx.Result.ConformalSet) != 1 {
		return true, "conformal prediction set is not a singleton"
	}
	return false, ""
}
