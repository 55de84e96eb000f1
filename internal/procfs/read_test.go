package procfs

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// writeProcFixture builds a minimal fake /proc/<pid> tree sufficient for
// ReadSample to parse, mirroring the real kernel's field layout.
func writeProcFixture(t *testing.T, root string, pid int, statLine, statusBody, cmdline, cgroupBody string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	must := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	must("stat", statLine)
	must("status", statusBody)
	must("cmdline", cmdline)
	must("cgroup", cgroupBody)
}

func TestReadStat_ParsesCommWithSpacesAndParens(t *testing.T) {
	root := t.TempDir()
	r := &Reader{Root: root, ClockTicksHz: 100}
	// comm field "(my (weird) proc)" exercises outermost-paren extraction.
	statLine := "7 (my (weird) proc) S 1 7 7 0 -1 0 0 0 0 0 111 222 0 0 20 0 1 0 33333 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	writeProcFixture(t, root, 7, statLine, "Uid:\t1000\t1000\t1000\t1000\nGid:\t1000\t1000\t1000\t1000\n", "sleep\x0060\x00", "0::/user.slice\n")

	stat, err := r.readStat(7)
	if err != nil {
		t.Fatalf("readStat: %v", err)
	}
	if stat.comm != "my (weird) proc" {
		t.Errorf("comm = %q, want %q", stat.comm, "my (weird) proc")
	}
	if stat.state != StateSleeping {
		t.Errorf("state = %q, want S", stat.state)
	}
	if stat.userTicks != 111 || stat.sysTicks != 222 {
		t.Errorf("ticks = (%d,%d), want (111,222)", stat.userTicks, stat.sysTicks)
	}
	if stat.startTimeTicks != 33333 {
		t.Errorf("startTimeTicks = %d, want 33333", stat.startTimeTicks)
	}
}

func TestReadSample_FullQuickScanFields(t *testing.T) {
	root := t.TempDir()
	r := &Reader{Root: root, ClockTicksHz: 100}
	statLine := "9 (sleep) S 1 9 9 0 -1 0 0 0 0 0 5 6 0 0 20 0 1 0 100 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	writeProcFixture(t, root, 9, statLine, "Uid:\t1000\t1000\t1000\t1000\nGid:\t1000\t1000\t1000\t1000\n", "sleep\x0060\x00", "0::/user.slice/app\n")

	sample, err := r.ReadSample(9, "boot-abc", 12345)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if sample.Identity.PID != 9 || sample.Identity.BootID != "boot-abc" {
		t.Errorf("identity = %+v", sample.Identity)
	}
	if sample.Identity.UID != 1000 || sample.Identity.EUID != 1000 {
		t.Errorf("uid/euid = %d/%d, want 1000/1000", sample.Identity.UID, sample.Identity.EUID)
	}
	if sample.PPID != 1 {
		t.Errorf("ppid = %d, want 1", sample.PPID)
	}
	if len(sample.Cmdline) != 2 || sample.Cmdline[0] != "sleep" || sample.Cmdline[1] != "60" {
		t.Errorf("cmdline = %v, want [sleep 60]", sample.Cmdline)
	}
	if sample.Identity.CmdlineSHA256 == "" {
		t.Error("expected non-empty cmdline hash when argv present")
	}
	if sample.CgroupPath != "/user.slice/app" {
		t.Errorf("cgroup = %q, want /user.slice/app", sample.CgroupPath)
	}
}

func TestClassifyCwd(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		name string
		path string
		want CwdKind
	}{
		{name: "tmp", path: "/tmp/build123", want: CwdTmp},
		{name: "var tmp", path: "/var/tmp/x", want: CwdTmp},
		{name: "system etc", path: "/etc/foo", want: CwdSystem},
		{name: "system usr", path: "/usr/local/bin", want: CwdSystem},
		{name: "empty is unknown", path: "", want: CwdUnknown},
		{name: "other path is home bucket", path: "/opt/weird", want: CwdHome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCwd(tt.path); got != tt.want {
				t.Errorf("classifyCwd(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
	if home != "" {
		t.Run("home dir prefix is project", func(t *testing.T) {
			if got := classifyCwd(filepath.Join(home, "src", "repo")); got != CwdProject {
				t.Errorf("classifyCwd(home path) = %q, want project", got)
			}
		})
	}
}

func TestListPIDs_FiltersNonNumericEntries(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1", "42", "self", "meminfo"} {
		p := filepath.Join(root, name)
		if name == "meminfo" {
			if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	r := &Reader{Root: root}
	pids, err := r.ListPIDs()
	if err != nil {
		t.Fatalf("ListPIDs: %v", err)
	}
	if len(pids) != 2 {
		t.Fatalf("pids = %v, want exactly [1 42]", pids)
	}
}

func TestReadHostContext(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "loadavg"), []byte("0.10 0.20 0.30 1/200 12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "meminfo"), []byte("MemTotal:       16000000 kB\nMemAvailable:    8000000 kB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "uptime"), []byte("54321.5 12000.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sys", "kernel", "random"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sys", "kernel", "random", "boot_id"), []byte("boot-xyz\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &Reader{Root: root, ClockTicksHz: 100}
	host, err := r.ReadHostContext()
	if err != nil {
		t.Fatalf("ReadHostContext: %v", err)
	}
	if host.LoadAvg1 != 0.10 || host.LoadAvg5 != 0.20 || host.LoadAvg15 != 0.30 {
		t.Errorf("load = %+v", host)
	}
	if host.MemTotalBytes != 16000000*1024 || host.MemAvailBytes != 8000000*1024 {
		t.Errorf("mem = %+v", host)
	}
	if host.BootID != "boot-xyz" {
		t.Errorf("boot id = %q, want boot-xyz", host.BootID)
	}
	if host.UptimeSeconds != 54321.5 {
		t.Errorf("uptime = %v, want 54321.5", host.UptimeSeconds)
	}
}
