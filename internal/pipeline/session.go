package pipeline

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"proctriage/internal/config"
	"proctriage/internal/features"
	"proctriage/internal/session"
)

// ConfigPaths carries the explicit --flag overrides for each configuration
// document; empty fields fall through to the env/XDG/default chain each
// Load* function implements on its own.
type ConfigPaths struct {
	Capabilities string
	Priors       string
	Policy       string
	Redaction    string
	Signatures   string
}

// ResolvedConfig is what config resolution hands back: the documents
// themselves plus the source each was read from, for the session metadata
// and status reporting to record.
type ResolvedConfig struct {
	Capabilities       config.Capabilities
	CapabilitiesSource config.Source
	Priors             config.Priors
	PriorsSource       config.Source
	Policy             config.Policy
	PolicySource       config.Source
	Redaction          config.RedactionPolicy
	RedactionSource    config.Source
	Signatures         []features.Signature
	SignaturesSource   config.Source
}

// ResolveConfig loads every configuration document a stage function needs
// through the same precedence chain (flag → env → XDG → default), so
// cmd/pt and internal/mcpserver never each implement their own resolution
// order and risk drifting apart.
func ResolveConfig(paths ConfigPaths, capabilitiesStdin io.Reader) (ResolvedConfig, error) {
	var out ResolvedConfig
	var err error

	out.Capabilities, out.CapabilitiesSource, err = config.LoadCapabilities(paths.Capabilities, capabilitiesStdin)
	if err != nil {
		return ResolvedConfig{}, fmt.Errorf("pipeline: load capabilities: %w", err)
	}
	out.Priors, out.PriorsSource, err = config.LoadPriors(paths.Priors)
	if err != nil {
		return ResolvedConfig{}, fmt.Errorf("pipeline: load priors: %w", err)
	}
	out.Policy, out.PolicySource, err = config.LoadPolicy(paths.Policy)
	if err != nil {
		return ResolvedConfig{}, fmt.Errorf("pipeline: load policy: %w", err)
	}
	out.Redaction, out.RedactionSource, err = config.LoadRedactionPolicy(paths.Redaction)
	if err != nil {
		return ResolvedConfig{}, fmt.Errorf("pipeline: load redaction policy: %w", err)
	}
	out.Signatures, out.SignaturesSource, err = features.LoadSignatures(paths.Signatures)
	if err != nil {
		return ResolvedConfig{}, fmt.Errorf("pipeline: load signatures: %w", err)
	}
	return out, nil
}

// Dependencies builds the Dependencies value stage functions take, given
// the operator's uid.
func (rc ResolvedConfig) Dependencies(operatorUID int) Dependencies {
	return Dependencies{
		Capabilities: rc.Capabilities,
		Priors:       rc.Priors,
		Policy:       rc.Policy,
		Redaction:    rc.Redaction,
		Signatures:   rc.Signatures,
		OperatorUID:  operatorUID,
	}
}

// PeekSession loads an existing session's store and metadata without
// bumping its run id, for read-only callers (status reporting) that must
// not mutate a session merely by looking at it.
func PeekSession(sessionsRoot, id string) (*session.Session, error) {
	store, err := session.Open(filepath.Join(sessionsRoot, id))
	if err != nil {
		return nil, fmt.Errorf("pipeline: open session %s: %w", id, err)
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		return nil, fmt.Errorf("pipeline: load metadata for session %s: %w", id, err)
	}
	return &session.Session{Store: store, Metadata: meta}, nil
}

// OpenSession creates a new session under sessionsRoot when id is empty, or
// resumes the existing session named by id otherwise. Both cmd/pt and
// internal/mcpserver funnel every session lookup through this one function.
func OpenSession(sessionsRoot, id string, rc ResolvedConfig) (*session.Session, error) {
	if id != "" {
		sess, err := session.Resume(sessionsRoot, id)
		if err != nil {
			return nil, fmt.Errorf("pipeline: resume session %s: %w", id, err)
		}
		return sess, nil
	}
	sess, err := session.New(sessionsRoot, time.Now(), rc.Capabilities, rc.Priors, rc.PriorsSource, rc.Policy, rc.PolicySource, rc.Redaction, rc.RedactionSource)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create session: %w", err)
	}
	return sess, nil
}
