package main

import "os"

// operatorUID is the uid the pt process itself runs as, used by the
// privilege safety gate to compare against each candidate's owning uid.
func operatorUID() int {
	return os.Getuid()
}

// safetyGateBlockedError signals spec.md §6's exit code 12: every
// destructive step in the plan was vetoed by a safety gate.
type safetyGateBlockedError struct{}

func (e *safetyGateBlockedError) Error() string { return "safety gates blocked every destructive action" }

// partialFailureError signals spec.md §6's exit code 20: at least one
// destructive step was attempted and failed.
type partialFailureError struct {
	failed int
}

func (e *partialFailureError) Error() string {
	return "execution completed with failures"
}
