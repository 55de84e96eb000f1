package procfs

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"proctriage/internal/identity"
)

// DefaultRoot is the /proc mount point. Tests substitute a fixture
// directory so procfs parsing can be exercised without a live kernel.
const DefaultRoot = "/proc"

// Reader reads process and host state from a procfs root. Root is
// overridable so tests run against fixture trees instead of the live
// kernel's /proc.
type Reader struct {
	Root         string
	ClockTicksHz int64
}

// NewReader returns a Reader rooted at the live /proc filesystem, with the
// standard Linux clock tick rate of 100 Hz (the value getconf CLK_TCK
// reports on every mainstream distribution; capabilities probing of the
// actual value is the installer wrapper's job, not this package's).
func NewReader() *Reader {
	return &Reader{Root: DefaultRoot, ClockTicksHz: 100}
}

// ListPIDs enumerates every numeric entry directly under Root.
func (r *Reader) ListPIDs() ([]int, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.Root, err)
	}
	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// BootID reads the kernel's per-boot unique identifier.
func (r *Reader) BootID() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, "sys", "kernel", "random", "boot_id"))
	if err != nil {
		return "", fmt.Errorf("read boot_id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadSample gathers the quick-scan fields for one pid: stat, status, argv,
// cwd, and cgroup. bootID is threaded in by the caller (read once per scan,
// not once per process) since it never changes mid-run.
func (r *Reader) ReadSample(pid int, bootID string, sampledAtUnixNano int64) (ProcessSample, error) {
	stat, err := r.readStat(pid)
	if err != nil {
		return ProcessSample{}, err
	}
	uid, euid, err := r.readIDs(pid)
	if err != nil {
		return ProcessSample{}, err
	}
	cmdline, _ := r.readCmdline(pid) // absence is not fatal; argv can vanish between readdir and read
	cwd, cwdKind := r.readCwd(pid)
	cgroupPath, _ := r.readCgroup(pid)
	exeInode, exeDev, _ := r.readExeIdentity(pid)

	var cmdlineHash string
	if len(cmdline) > 0 {
		sum := sha256.Sum256([]byte(strings.Join(cmdline, "\x00")))
		cmdlineHash = hex.EncodeToString(sum[:])
	}

	return ProcessSample{
		Identity: identity.Tuple{
			PID:            pid,
			StartTimeTicks: stat.startTimeTicks,
			BootID:         bootID,
			UID:            uid,
			EUID:           euid,
			ExeInode:       exeInode,
			ExeDev:         exeDev,
			CmdlineSHA256:  cmdlineHash,
		},
		Comm:              stat.comm,
		Cmdline:           cmdline,
		PPID:              stat.ppid,
		State:             stat.state,
		UserTicks:         stat.userTicks,
		SysTicks:          stat.sysTicks,
		RSSBytes:          stat.rssPages * pageSizeBytes,
		TTY:               ttyName(stat.ttyNr),
		CwdKind:           cwdKind,
		Cwd:               cwd,
		CgroupPath:        cgroupPath,
		SampledAtUnixNano: sampledAtUnixNano,
	}, nil
}

const pageSizeBytes = 4096

type parsedStat struct {
	comm           string
	state          ProcState
	ppid           int
	userTicks      uint64
	sysTicks       uint64
	startTimeTicks uint64
	rssPages       uint64
	ttyNr          int64
}

// readStat parses /proc/<pid>/stat. Field indices follow proc(5): comm is
// bracketed and may itself contain spaces or parens, so it is extracted by
// locating the outermost parenthesis pair rather than naive splitting.
func (r *Reader) readStat(pid int) (parsedStat, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return parsedStat{}, fmt.Errorf("read stat for pid %d: %w", pid, err)
	}
	line := string(data)
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return parsedStat{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	comm := line[open+1 : close]
	rest := strings.Fields(line[close+1:])
	// rest[0] = state, rest[1] = ppid, ... (fields 3+ of proc(5), 0-indexed here)
	if len(rest) < 20 {
		return parsedStat{}, fmt.Errorf("truncated stat for pid %d", pid)
	}
	ppid, _ := strconv.Atoi(rest[1])
	ttyNr, _ := strconv.ParseInt(rest[4], 10, 64)
	utime, _ := strconv.ParseUint(rest[11], 10, 64)
	stime, _ := strconv.ParseUint(rest[12], 10, 64)
	starttime, _ := strconv.ParseUint(rest[19], 10, 64)
	var rss uint64
	if len(rest) > 21 {
		rss, _ = strconv.ParseUint(rest[21], 10, 64)
	}
	return parsedStat{
		comm:           comm,
		state:          ProcState(rest[0][0]),
		ppid:           ppid,
		userTicks:      utime,
		sysTicks:       stime,
		startTimeTicks: starttime,
		rssPages:       rss,
		ttyNr:          ttyNr,
	}, nil
}

func ttyName(ttyNr int64) string {
	if ttyNr == 0 {
		return ""
	}
	return fmt.Sprintf("tty-%d", ttyNr)
}

// readIDs parses uid/euid out of /proc/<pid>/status.
func (r *Reader) readIDs(pid int) (uid, euid int, err error) {
	f, err := os.Open(filepath.Join(r.Root, strconv.Itoa(pid), "status"))
	if err != nil {
		return 0, 0, fmt.Errorf("read status for pid %d: %w", pid, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				uid, _ = strconv.Atoi(fields[1])
				euid, _ = strconv.Atoi(fields[2])
			}
		}
	}
	return uid, euid, nil
}

// readCmdline reads argv, NUL-separated in the kernel's representation.
func (r *Reader) readCmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(string(data), "\x00")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\x00"), nil
}

// readCwd resolves the cwd symlink and classifies it.
func (r *Reader) readCwd(pid int) (string, CwdKind) {
	link, err := os.Readlink(filepath.Join(r.Root, strconv.Itoa(pid), "cwd"))
	if err != nil {
		return "", CwdUnknown
	}
	return link, classifyCwd(link)
}

func classifyCwd(path string) CwdKind {
	home, _ := os.UserHomeDir()
	switch {
	case IsTmpPath(path):
		return CwdTmp
	case home != "" && strings.HasPrefix(path, home):
		return CwdProject
	case strings.HasPrefix(path, "/etc") || strings.HasPrefix(path, "/usr") || strings.HasPrefix(path, "/var/lib"):
		return CwdSystem
	case path == "":
		return CwdUnknown
	default:
		return CwdHome
	}
}

// IsTmpPath reports whether path falls under a temporary-file convention
// (/tmp, /var/tmp). Shared by cwd classification and the data-loss gate's
// open-write-fd path filter (spec.md §4.4 "non-tmp, non-log path").
func IsTmpPath(path string) bool {
	return strings.HasPrefix(path, "/tmp") || strings.HasPrefix(path, "/var/tmp")
}

// IsLogPath reports whether path is a conventional log location, the other
// half of spec.md §4.4's "non-tmp, non-log path" write-fd filter.
func IsLogPath(path string) bool {
	return strings.HasPrefix(path, "/var/log") || strings.HasSuffix(path, ".log")
}

// readCgroup returns the first non-empty cgroup path line, sufficient for
// cgroup v2's unified hierarchy; v1 callers get the first controller's path,
// which is still useful for attribution even if not exhaustive.
func (r *Reader) readCgroup(pid int) (string, error) {
	f, err := os.Open(filepath.Join(r.Root, strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) == 3 && parts[2] != "" {
			return parts[2], nil
		}
	}
	return "", nil
}

// readExeIdentity stats the exe symlink target for inode+device identity.
func (r *Reader) readExeIdentity(pid int) (inode, dev uint64, err error) {
	return statInodeDev(filepath.Join(r.Root, strconv.Itoa(pid), "exe"))
}
