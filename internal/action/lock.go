// Package action implements the per-host advisory lock and the TOCTOU-safe
// executor that dispatches signals (or supervisor stop commands) against
// revalidated process identities (spec.md §5 "Execution").
package action

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// Lock is a per-host advisory file lock, held for the duration of a plan's
// execution so two process-triage runs never act on the same host
// concurrently (spec.md §3 "Lock").
type Lock struct {
	path string
	file *os.File
}

// LockStaleAfter is how long a lock file's mtime may sit unmodified before a
// new run treats it as abandoned by a crashed prior process and reclaims it.
const LockStaleAfter = 10 * time.Minute

// Acquire takes the advisory lock at path, non-blocking. If the lock is held
// by a live process it returns an error naming the holder's pid (best
// effort — the pid recorded in the lock file, not independently verified).
// A lock file whose mtime is older than LockStaleAfter is reclaimed rather
// than treated as a conflict, since flock releases automatically when its
// holding process dies and a stale file usually means an unclean exit left
// the file behind without ever holding the kernel-level lock.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if isStale(f) {
			_ = f.Close()
			if rmErr := os.Remove(path); rmErr == nil {
				return Acquire(path)
			}
		}
		holder := readHolderPID(f)
		_ = f.Close()
		return nil, fmt.Errorf("lock held by another process (recorded pid %d): %w", holder, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.Seek(0, 0)
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}

	return &Lock{path: path, file: f}, nil
}

func isStale(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > LockStaleAfter
}

func readHolderPID(f *os.File) int {
	buf := make([]byte, 32)
	_, _ = f.Seek(0, 0)
	n, _ := f.Read(buf)
	var pid int
	fmt.Sscanf(string(buf[:n]), "%d", &pid)
	return pid
}

// Touch refreshes the lock file's mtime, preventing a long-running scan from
// being mistaken for an abandoned lock by a concurrent invocation checking
// staleness.
func (l *Lock) Touch() error {
	now := time.Now()
	return os.Chtimes(l.path, now, now)
}

// Release unlocks and closes the lock file. Best-effort: an error releasing
// the flock is not actionable by the caller since the process is exiting the
// locked section regardless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
