package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"proctriage/internal/config"
	"proctriage/internal/procfs"
)

// ToolRunner runs the deep-scan probes (spec.md §4.1 "Tool runner").
// ProbeFDs is bounded by a per-tool deadline. The probes read /proc directly
// and invoke no external tool, so there is no captured output and byteCap is
// not applied to anything. It never fails the scan on a probe error; callers
// decide how to degrade the affected feature.
type ToolRunner struct {
	caps     config.Capabilities
	deadline time.Duration
	byteCap  int64
}

// NewToolRunner builds a runner scoped to the host's asserted capabilities.
func NewToolRunner(caps config.Capabilities) *ToolRunner {
	return &ToolRunner{caps: caps, deadline: 2 * time.Second, byteCap: 1 << 16}
}

// ProbeFDs counts open file descriptors under /proc/<pid>/fd, distinguishing
// write-capable handles by following each symlink's target and checking the
// fd's own open mode via /proc/<pid>/fdinfo. writeCount is every write-fd
// found; nonTmpWriteCount is the subset whose target is a real path under
// neither a tmp nor a log convention (spec.md §4.4's data-loss gate signal:
// "≥1 open write-file-descriptor to a non-tmp, non-log path").
func (t *ToolRunner) ProbeFDs(ctx context.Context, pid int) (writeCount, nonTmpWriteCount, socketCount int, err error) {
	ctx, cancel := context.WithTimeout(ctx, t.deadline)
	defer cancel()

	fdDir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read fd dir for pid %d: %w", pid, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return writeCount, nonTmpWriteCount, socketCount, err
		}
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil {
			continue // fd closed between readdir and readlink; not a probe failure
		}
		if strings.HasPrefix(target, "socket:") {
			socketCount++
			continue
		}
		if !t.fdIsWritable(pid, e.Name()) {
			continue
		}
		writeCount++
		if isDataLossRelevant(target) {
			nonTmpWriteCount++
		}
	}
	return writeCount, nonTmpWriteCount, socketCount, nil
}

// isDataLossRelevant reports whether a write-fd's target is a real file path
// (not a pipe, anonymous inode, or deleted file) outside the tmp and log
// conventions procfs.IsTmpPath/IsLogPath name.
func isDataLossRelevant(target string) bool {
	if !strings.HasPrefix(target, "/") {
		return false
	}
	return !procfs.IsTmpPath(target) && !procfs.IsLogPath(target)
}

// fdIsWritable inspects /proc/<pid>/fdinfo/<fd> for an open flags value
// whose access-mode bits indicate write or read-write.
func (t *ToolRunner) fdIsWritable(pid int, fd string) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "fdinfo", fd))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "flags:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return false
		}
		flags, err := strconv.ParseInt(fields[1], 8, 64)
		if err != nil {
			return false
		}
		const oAccMode = 0o3 // O_RDONLY=0, O_WRONLY=1, O_RDWR=2
		mode := flags & oAccMode
		return mode == 1 || mode == 2
	}
	return false
}

// ProbeSupervisor attributes a process to a supervisor (systemd unit,
// container id) when the capability manifest asserts the corresponding
// supervisor is available. Absent capability support, it conservatively
// reports no attribution rather than guessing.
func (t *ToolRunner) ProbeSupervisor(ctx context.Context, pid int, cgroupPath string) (kind, unit string, err error) {
	if cgroupPath == "" {
		return "", "", nil
	}
	if t.caps.SupportsSupervisor("systemd") && strings.Contains(cgroupPath, ".service") {
		base := filepath.Base(cgroupPath)
		return "systemd", base, nil
	}
	if t.caps.SupportsSupervisor("docker") && strings.Contains(cgroupPath, "docker") {
		parts := strings.Split(cgroupPath, "/")
		return "docker", parts[len(parts)-1], nil
	}
	return "", "", nil
}
