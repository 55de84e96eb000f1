package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"proctriage/internal/collect"
	"proctriage/internal/config"
	"proctriage/internal/decision"
	"proctriage/internal/logging"
	"proctriage/internal/procfs"
)

// gracefulWait is how long the executor waits for SIGTERM to take effect
// before escalating to SIGKILL.
const gracefulWait = 3 * time.Second

// Throttle has no direct signal; a cgroup v2 cpu.max write is attempted
// first, capping the group at half a core over a 100ms period, falling back
// to a nice-value renice when cgroups are unavailable (spec.md §4.4).
const (
	cgroupRoot             = "/sys/fs/cgroup"
	throttleCPUQuotaUS     = "50000"
	throttleCPUPeriodUS    = "100000"
	throttleRenicePriority = 15
)

// SkipReason names why a step never dispatched, using the codes spec.md
// §4.5 step 1 names explicitly (SkipNotRunning, SkipIdentityMismatch) plus
// this repository's own codes for the other non-dispatch paths, so callers
// (pipeline.summarizeOutcomes) can switch on an exact code instead of
// pattern-matching free text.
type SkipReason string

const (
	SkipNoActionSelected       SkipReason = "none_selected"
	SkipNotRunning             SkipReason = "not_running"
	SkipIdentityMismatch       SkipReason = "identity_mismatch"
	SkipGateProtected          SkipReason = "gate_protected"
	SkipGateSessionSafety      SkipReason = "gate_session_safety"
	SkipGatePrivilege          SkipReason = "gate_privilege"
	SkipGateDataLoss           SkipReason = "gate_data_loss"
	SkipGateConfidenceFloor    SkipReason = "gate_confidence_floor"
	SkipGateConformalSingleton SkipReason = "gate_conformal_singleton"
	SkipGateOther              SkipReason = "gate_other"
	SkipCancelled              SkipReason = "cancelled"
	SkipSupervisorUnavailable  SkipReason = "supervisor_unavailable"
	SkipSupervisorInvokeFailed SkipReason = "supervisor_invoke_failed"
	SkipNoDispatchMechanism    SkipReason = "no_dispatch_mechanism"
	SkipSignalFailed           SkipReason = "signal_failed"
)

// gateSkipReasons maps a GateVerdict.FailedGate name to its SkipReason code.
var gateSkipReasons = map[string]SkipReason{
	"protected":           SkipGateProtected,
	"session_safety":      SkipGateSessionSafety,
	"privilege":           SkipGatePrivilege,
	"data_loss":           SkipGateDataLoss,
	"confidence_floor":    SkipGateConfidenceFloor,
	"conformal_singleton": SkipGateConformalSingleton,
}

func gateSkipReason(failedGate string) SkipReason {
	if r, ok := gateSkipReasons[failedGate]; ok {
		return r
	}
	return SkipGateOther
}

// StepOutcome records what actually happened when a plan step was
// dispatched (spec.md §3 "Execution Record").
type StepOutcome struct {
	PID              int            `json:"pid"`
	RequestedAction  string         `json:"requested_action"`
	Dispatched       bool           `json:"dispatched"`
	Reason           SkipReason     `json:"reason,omitempty"`
	SkippedReason    string         `json:"skipped_reason,omitempty"`
	IdentityObserved map[string]any `json:"identity_observed,omitempty"`
	SignalSent       string         `json:"signal_sent,omitempty"`
	Escalated        bool           `json:"escalated"`
	VerifiedExited   bool           `json:"verified_exited"`
	Err              string         `json:"error,omitempty"`
}

// Executor dispatches an approved plan against revalidated process
// identities. It never trusts a pid alone: every destructive step
// re-reads the process's identity immediately before acting and refuses to
// act if anything has changed (spec.md §5 "TOCTOU-safe execution").
type Executor struct {
	Reader *procfs.Reader
	Tools  *collect.ToolRunner
	caps   config.Capabilities
	logger *slog.Logger
}

// NewExecutor builds an Executor against the live /proc filesystem.
func NewExecutor(caps config.Capabilities) *Executor {
	return &Executor{
		Reader: procfs.NewReader(),
		Tools:  collect.NewToolRunner(caps),
		caps:   caps,
		logger: logging.New("executor"),
	}
}

// Execute dispatches every plan step whose gate verdict allowed a
// non-"none" action, honoring context cancellation between steps so a
// wind-down (SIGINT during a run) stops issuing new destructive actions
// without leaving in-flight ones half-applied (spec.md §5 "cancellation and
// wind-down").
func (e *Executor) Execute(ctx context.Context, plan decision.Plan, bootID string) []StepOutcome {
	outcomes := make([]StepOutcome, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			outcomes = append(outcomes, StepOutcome{
				PID:             step.PID,
				RequestedAction: string(step.SelectedAction),
				Reason:          SkipCancelled,
				SkippedReason:   "run cancelled before this step dispatched",
			})
			continue
		}
		outcomes = append(outcomes, e.executeStep(ctx, step, bootID))
	}
	return outcomes
}

func (e *Executor) executeStep(ctx context.Context, step decision.PlanStep, bootID string) StepOutcome {
	out := StepOutcome{PID: step.PID, RequestedAction: string(step.SelectedAction)}

	if step.SelectedAction == config.ActionNone {
		out.Reason = SkipNoActionSelected
		out.SkippedReason = "no action selected"
		return out
	}
	if !step.GateVerdict.Allowed {
		out.Reason = gateSkipReason(step.GateVerdict.FailedGate)
		out.SkippedReason = fmt.Sprintf("gate %s: %s", step.GateVerdict.FailedGate, step.GateVerdict.Reason)
		return out
	}

	observed, err := e.Reader.ReadSample(step.PID, bootID, time.Now().UnixNano())
	if err != nil {
		out.Reason = SkipNotRunning
		out.SkippedReason = "process no longer present at dispatch time"
		return out
	}
	if mismatched := step.Identity.MismatchedFields(observed.Identity); len(mismatched) > 0 {
		out.Reason = SkipIdentityMismatch
		out.SkippedReason = fmt.Sprintf("identity revalidation failed: %v changed since the plan was built", mismatched)
		out.IdentityObserved = observed.Identity.ObservedValues(mismatched)
		e.logger.Warn("toctou revalidation failed, skipping step", "pid", step.PID, "fields", mismatched)
		return out
	}

	if step.SupervisorRoute == "supervisor-stop" {
		return e.dispatchSupervisorStop(ctx, step, observed.CgroupPath, out)
	}
	return e.dispatch(ctx, step, observed.CgroupPath, out)
}

// dispatchSupervisorStop routes a stop through the process's supervisor unit
// rather than signaling it directly, so the supervisor's own restart policy
// is respected instead of racing it. The control plane is only invoked when
// the capabilities manifest asserts the corresponding tool is available;
// otherwise the step is recorded as skipped, never as a disguised success.
func (e *Executor) dispatchSupervisorStop(ctx context.Context, step decision.PlanStep, cgroupPath string, out StepOutcome) StepOutcome {
	kind, unit, err := e.Tools.ProbeSupervisor(ctx, step.PID, cgroupPath)
	if err != nil || unit == "" {
		e.logger.Warn("supervisor-stop route requested but attribution unavailable, falling back to signal", "pid", step.PID)
		return e.dispatch(ctx, step, cgroupPath, out)
	}

	tool, args, ok := e.supervisorStopCommand(kind, unit)
	if !ok {
		out.Reason = SkipSupervisorUnavailable
		out.SkippedReason = fmt.Sprintf("supervisor-stop route requires %q, not asserted available in the capabilities manifest", kind)
		e.logger.Warn("supervisor control plane unavailable, skipping stop", "pid", step.PID, "supervisor_kind", kind)
		return out
	}

	if err := exec.CommandContext(ctx, tool, args...).Run(); err != nil {
		out.Err = fmt.Sprintf("%s %v: %v", tool, args, err)
		out.Reason = SkipSupervisorInvokeFailed
		out.SkippedReason = "supervisor control plane invocation failed"
		return out
	}
	out.Dispatched = true
	out.SignalSent = fmt.Sprintf("supervisor-stop(%s:%s)", kind, unit)
	return out
}

// supervisorStopCommand resolves the control-plane binary and arguments for
// stopping unit under the named supervisor kind, gated on the capabilities
// manifest asserting that tool is available.
func (e *Executor) supervisorStopCommand(kind, unit string) (tool string, args []string, ok bool) {
	switch kind {
	case "systemd":
		if !e.caps.HasTool("systemctl") {
			return "", nil, false
		}
		return e.toolPath("systemctl"), []string{"stop", unit}, true
	case "launchd":
		if !e.caps.HasTool("launchctl") {
			return "", nil, false
		}
		return e.toolPath("launchctl"), []string{"unload", unit}, true
	case "docker":
		if !e.caps.HasTool("docker") {
			return "", nil, false
		}
		return e.toolPath("docker"), []string{"stop", unit}, true
	default:
		return "", nil, false
	}
}

func (e *Executor) toolPath(name string) string {
	if t, ok := e.caps.Tools[name]; ok && t.Path != "" {
		return t.Path
	}
	return name
}

// dispatch signals or otherwise applies the selected action directly against
// the process (or its process group, for terminate).
func (e *Executor) dispatch(ctx context.Context, step decision.PlanStep, cgroupPath string, out StepOutcome) StepOutcome {
	switch step.SelectedAction {
	case config.ActionPause:
		return e.dispatchSimpleSignal(step, syscall.SIGSTOP, out)
	case config.ActionRenice:
		return e.dispatchRenice(step, out)
	case config.ActionThrottle:
		return e.dispatchThrottle(step, cgroupPath, out)
	case config.ActionTerminate:
		return e.dispatchTerminate(ctx, step, out)
	default:
		out.Reason = SkipNoDispatchMechanism
		out.SkippedReason = fmt.Sprintf("no dispatch mechanism for action %q", step.SelectedAction)
		return out
	}
}

func (e *Executor) dispatchSimpleSignal(step decision.PlanStep, sig syscall.Signal, out StepOutcome) StepOutcome {
	proc, err := os.FindProcess(step.PID)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	if err := proc.Signal(sig); err != nil {
		out.Err = err.Error()
		out.Reason = SkipSignalFailed
		out.SkippedReason = "process exited before signal delivery"
		return out
	}
	out.Dispatched = true
	out.SignalSent = sig.String()
	return out
}

func (e *Executor) dispatchRenice(step decision.PlanStep, out StepOutcome) StepOutcome {
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, step.PID, throttleRenicePriority); err != nil {
		out.Err = err.Error()
		out.SkippedReason = "renice failed"
		return out
	}
	out.Dispatched = true
	out.SignalSent = fmt.Sprintf("renice(%d)", throttleRenicePriority)
	return out
}

// dispatchThrottle writes a cgroup v2 cpu.max limit when the capabilities
// manifest asserts cgroup v2 and the candidate has a known cgroup path,
// falling back to renice otherwise (spec.md §4.4).
func (e *Executor) dispatchThrottle(step decision.PlanStep, cgroupPath string, out StepOutcome) StepOutcome {
	if e.caps.CgroupVersion == 2 && cgroupPath != "" {
		cpuMaxPath := filepath.Join(cgroupRoot, cgroupPath, "cpu.max")
		value := throttleCPUQuotaUS + " " + throttleCPUPeriodUS
		if err := os.WriteFile(cpuMaxPath, []byte(value), 0o644); err == nil {
			out.Dispatched = true
			out.SignalSent = fmt.Sprintf("cgroup-throttle(%s)", cpuMaxPath)
			return out
		}
		e.logger.Warn("cgroup cpu.max write failed, falling back to renice", "pid", step.PID, "path", cpuMaxPath)
	}
	return e.dispatchRenice(step, out)
}

// dispatchTerminate signals SIGTERM, then SIGKILL if the process outlives
// the grace window. Terminate targets the process group when the candidate
// leads one (spec.md §4.4/§4.5), and re-validates identity immediately
// before the SIGKILL escalation so a pid reused inside the grace window is
// never destructively signaled (spec.md §4.5 step 3, §8 identity-stability
// invariant).
func (e *Executor) dispatchTerminate(ctx context.Context, step decision.PlanStep, out StepOutcome) StepOutcome {
	proc, err := os.FindProcess(step.PID)
	if err != nil {
		out.Err = err.Error()
		return out
	}

	pgid, pgErr := syscall.Getpgid(step.PID)
	group := pgErr == nil && pgid == step.PID

	if err := deliverSignal(proc, pgid, syscall.SIGTERM, group); err != nil {
		out.Err = err.Error()
		out.Reason = SkipSignalFailed
		out.SkippedReason = "process exited before signal delivery"
		return out
	}
	out.Dispatched = true
	out.SignalSent = syscall.SIGTERM.String()
	if group {
		out.SignalSent += " (process group)"
	}

	if waitForExit(ctx, step.PID, gracefulWait) {
		out.VerifiedExited = true
		return out
	}

	e.logger.Warn("process did not exit after SIGTERM, escalating to SIGKILL", "pid", step.PID)

	observed, err := e.Reader.ReadSample(step.PID, step.Identity.BootID, time.Now().UnixNano())
	if err != nil {
		out.VerifiedExited = true // no longer present: it exited on its own after the wait check raced
		return out
	}
	if mismatched := step.Identity.MismatchedFields(observed.Identity); len(mismatched) > 0 {
		out.Reason = SkipIdentityMismatch
		out.SkippedReason = fmt.Sprintf("identity revalidation failed before sigkill: %v changed since sigterm was sent", mismatched)
		out.IdentityObserved = observed.Identity.ObservedValues(mismatched)
		e.logger.Warn("toctou revalidation failed before sigkill, aborting escalation", "pid", step.PID, "fields", mismatched)
		return out
	}

	out.Escalated = true
	if err := deliverSignal(proc, pgid, syscall.SIGKILL, group); err != nil {
		out.Err = err.Error()
		return out
	}
	out.VerifiedExited = waitForExit(ctx, step.PID, gracefulWait)
	return out
}

// deliverSignal signals the process group when group is true (kill(2)'s
// negative-pid convention), or the single process otherwise.
func deliverSignal(proc *os.Process, pgid int, sig syscall.Signal, group bool) error {
	if group {
		return syscall.Kill(-pgid, sig)
	}
	return proc.Signal(sig)
}

// waitForExit probes the pid with signal 0 until delivery fails (the
// process is gone), bounded by deadline and the caller's context.
func waitForExit(ctx context.Context, pid int, deadline time.Duration) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}

	deadlineAt := time.Now().Add(deadline)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadlineAt) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				return true
			}
		}
	}
	return false
}
