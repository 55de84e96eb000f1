// Package identity implements the Process Identity Tuple and Session Id
// formats. start_id disambiguates PID reuse within a boot epoch by
// construction (boot_id:start_time_ticks:pid) and is intentionally opaque
// across reboots, so stale plans never silently apply to the wrong process.
package identity

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Tuple is the canonical reference to one process instance (spec.md §3,
// "Process Identity Tuple"). ExeInode/ExeDev and CmdlineSHA256 are optional
// and zero-valued when the collector could not gather them (e.g. quick scan
// only, or permission denied).
type Tuple struct {
	PID            int    `json:"pid"`
	StartTimeTicks uint64 `json:"start_time_ticks"`
	BootID         string `json:"boot_id"`
	UID            int    `json:"uid"`
	EUID           int    `json:"euid"`
	ExeInode       uint64 `json:"exe_inode,omitempty"`
	ExeDev         uint64 `json:"exe_dev,omitempty"`
	CmdlineSHA256  string `json:"cmdline_sha256,omitempty"`
}

// StartID returns "<boot_id>:<start_time_ticks>:<pid>", the derived unique
// identifier for this process instance across PID reuse within one boot.
func (t Tuple) StartID() string {
	return fmt.Sprintf("%s:%d:%d", t.BootID, t.StartTimeTicks, t.PID)
}

// MismatchedFields reports which identity fields differ between the
// identity captured at plan time (t, the receiver) and the identity observed
// immediately before dispatch (observed). An empty slice means the two
// tuples match for revalidation purposes. exe_inode/exe_dev/cmdline_sha256
// are only compared when both sides have them populated — the spec's
// wording ("when originally captured") makes their absence a non-mismatch,
// not an error.
func (t Tuple) MismatchedFields(observed Tuple) []string {
	var mismatched []string
	if t.PID != observed.PID {
		mismatched = append(mismatched, "pid")
	}
	if t.StartTimeTicks != observed.StartTimeTicks {
		mismatched = append(mismatched, "start_time_ticks")
	}
	if t.BootID != observed.BootID {
		mismatched = append(mismatched, "boot_id")
	}
	if t.UID != observed.UID {
		mismatched = append(mismatched, "uid")
	}
	if t.EUID != observed.EUID {
		mismatched = append(mismatched, "euid")
	}
	if t.ExeInode != 0 && observed.ExeInode != 0 && (t.ExeInode != observed.ExeInode || t.ExeDev != observed.ExeDev) {
		mismatched = append(mismatched, "exe_inode_dev")
	}
	if t.CmdlineSHA256 != "" && observed.CmdlineSHA256 != "" && t.CmdlineSHA256 != observed.CmdlineSHA256 {
		mismatched = append(mismatched, "cmdline_sha256")
	}
	return mismatched
}

// Matches reports whether observed identifies the same process instance as
// t, i.e. MismatchedFields is empty.
func (t Tuple) Matches(observed Tuple) bool {
	return len(t.MismatchedFields(observed)) == 0
}

// ObservedValues builds the "identity_observed" object spec.md §4.5 requires
// alongside an identity_mismatch skip: the subset of the observed tuple's
// fields named in fields (as returned by MismatchedFields), keyed by their
// JSON field name so the execution record shows exactly what changed.
func (t Tuple) ObservedValues(fields []string) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case "pid":
			out["pid"] = t.PID
		case "start_time_ticks":
			out["start_time_ticks"] = t.StartTimeTicks
		case "boot_id":
			out["boot_id"] = t.BootID
		case "uid":
			out["uid"] = t.UID
		case "euid":
			out["euid"] = t.EUID
		case "exe_inode_dev":
			out["exe_inode"] = t.ExeInode
			out["exe_dev"] = t.ExeDev
		case "cmdline_sha256":
			out["cmdline_sha256"] = t.CmdlineSHA256
		}
	}
	return out
}

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewSessionID generates "pt-YYYYMMDD-HHMMSS-<4-random-lowercase-alphanumeric>"
// (spec.md §3, "Session"). now is passed in explicitly so callers (and
// their tests) control the clock rather than this package reaching for
// time.Now() itself, keeping session-id generation reproducible in tests.
func NewSessionID(now time.Time) (string, error) {
	suffix, err := randomSuffix(4)
	if err != nil {
		return "", fmt.Errorf("generate session id suffix: %w", err)
	}
	return fmt.Sprintf("pt-%s-%s", now.UTC().Format("20060102-150405"), suffix), nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return string(out), nil
}
