package main

import (
	"errors"

	"proctriage/internal/config"
	"proctriage/internal/pipeline"
)

// Exit codes, spec.md §6.
const (
	exitOK                  = 0
	exitGeneralError        = 1
	exitInvalidArguments    = 2
	exitCapabilityError     = 3
	exitPermissionDenied    = 4
	exitVersionIncompatible = 5
	exitNoCandidates        = 10
	exitUserCancelled       = 11
	exitSafetyGateBlocked   = 12
	exitPartialFailure      = 20
	exitLockBusy            = 21
)

// configError wraps a configuration resolution failure (missing document,
// unparseable JSON/YAML, schema mismatch), grounded on adapters/rp.APIError's
// operation-plus-cause shape.
type configError struct {
	operation string
	cause     error
}

func (e *configError) Error() string { return e.operation + ": " + e.cause.Error() }
func (e *configError) Unwrap() error { return e.cause }

func newConfigError(operation string, cause error) *configError {
	return &configError{operation: operation, cause: cause}
}

// lockBusyError wraps action.Acquire's failure when another run already
// holds the host lock.
type lockBusyError struct {
	cause error
}

func (e *lockBusyError) Error() string { return e.cause.Error() }
func (e *lockBusyError) Unwrap() error { return e.cause }

// exitCodeFor maps a returned error to the process exit code spec.md §6
// names. errors.As walks the wrap chain built by fmt.Errorf("%w") at each
// boundary, so a config error surfaced from deep inside pipeline.ResolveConfig
// still resolves to exitInvalidArguments here.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}

	// Checked ahead of *configError: a schema-version mismatch or an
	// unreadable /proc both surface wrapped inside a *configError from
	// pipeline.ResolveConfig/Scan, but they name a more specific exit code
	// than the generic "bad configuration" one.
	var schemaErr *config.ErrSchemaVersion
	if errors.As(err, &schemaErr) {
		return exitVersionIncompatible
	}
	if errors.Is(err, pipeline.ErrProcNotReadable) {
		return exitCapabilityError
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return exitInvalidArguments
	}
	var lockErr *lockBusyError
	if errors.As(err, &lockErr) {
		return exitLockBusy
	}
	if errors.Is(err, pipeline.ErrConfirmationRequired) {
		return exitUserCancelled
	}
	var noCand *noCandidatesError
	if errors.As(err, &noCand) {
		return exitNoCandidates
	}
	var gateBlocked *safetyGateBlockedError
	if errors.As(err, &gateBlocked) {
		return exitSafetyGateBlocked
	}
	var partial *partialFailureError
	if errors.As(err, &partial) {
		return exitPartialFailure
	}
	return exitGeneralError
}
