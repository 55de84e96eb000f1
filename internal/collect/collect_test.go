package collect

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"proctriage/internal/config"
	"proctriage/internal/identity"
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

func setupFixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "loadavg"), []byte("0.1 0.1 0.1 1/50 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "meminfo"), []byte("MemTotal: 1000 kB\nMemAvailable: 500 kB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "uptime"), []byte("100.0 50.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sys", "kernel", "random"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sys", "kernel", "random", "boot_id"), []byte("fixture-boot\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	statLine := "5 (sleep) S 1 5 5 0 -1 0 0 0 0 0 1 1 0 0 20 0 1 0 10 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	writeFixtureProc(t, root, 5, statLine)
	return root
}

func TestCollector_Quick_ProducesThreeSamplesPerCandidate(t *testing.T) {
	root := setupFixtureRoot(t)
	reader := &procfs.Reader{Root: root, ClockTicksHz: 100}
	c := newWithReader(reader, config.Capabilities{})
	c.selfPID = -1 // fixture pid 5 must not collide with the test process's own pid

	snap, err := c.Quick(context.Background(), Options{QuickSampleGap: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Quick: %v", err)
	}
	if len(snap.Samples) != 1 {
		t.Fatalf("candidates = %d, want 1", len(snap.Samples))
	}
	if len(snap.Samples[0]) != 3 {
		t.Fatalf("samples for candidate = %d, want 3", len(snap.Samples[0]))
	}
	if snap.Host.BootID != "fixture-boot" {
		t.Errorf("boot id = %q, want fixture-boot", snap.Host.BootID)
	}
}

func TestCollector_Quick_ExcludesSelfPID(t *testing.T) {
	root := setupFixtureRoot(t)
	reader := &procfs.Reader{Root: root, ClockTicksHz: 100}
	c := newWithReader(reader, config.Capabilities{})
	c.selfPID = 5 // pretend the fixture's only candidate is the collector itself

	snap, err := c.Quick(context.Background(), Options{QuickSampleGap: time.Millisecond})
	if err != nil {
		t.Fatalf("Quick: %v", err)
	}
	if len(snap.Samples) != 0 {
		t.Fatalf("candidates = %d, want 0 (self-excluded)", len(snap.Samples))
	}
}

func TestCollector_Deep_DegradesOnProbeFailureWithoutFailingScan(t *testing.T) {
	root := setupFixtureRoot(t)
	reader := &procfs.Reader{Root: root, ClockTicksHz: 100}
	c := newWithReader(reader, config.Capabilities{})

	candidates := []procfs.ProcessSample{
		{Identity: identity.Tuple{PID: 999999}}, // pid unlikely to exist; ProbeFDs reads the real /proc and fails
	}
	out, err := c.Deep(context.Background(), procfs.HostContext{}, candidates, Options{})
	if err != nil {
		t.Fatalf("Deep: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if !out[0].Degraded {
		t.Error("expected degraded sample when fd probe fails")
	}
}
