package session

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"proctriage/internal/config"
	"proctriage/internal/identity"
)

// Session pairs a Store with the in-memory metadata it publishes, giving
// callers (cmd/pt subcommands, the MCP server) one handle for both the
// filesystem layout and the lifecycle typestate.
type Session struct {
	*Store
	Metadata Metadata
}

// New creates a fresh session directory under root, generates its session
// id, and publishes the initial metadata.json in StateActive.
func New(root string, now time.Time, caps config.Capabilities, priors config.Priors, priorsSrc config.Source, policy config.Policy, policySrc config.Source, redaction config.RedactionPolicy, redactionSrc config.Source) (*Session, error) {
	id, err := identity.NewSessionID(now)
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	store, err := Open(filepath.Join(root, id))
	if err != nil {
		return nil, err
	}
	meta := Metadata{
		SessionID:    id,
		State:        StateActive,
		StartedAt:    now,
		LastRunID:    NewRunID(),
		Capabilities: caps,
		Priors:       priors,
		PriorsSource: priorsSrc,
		Policy:       policy,
		PolicySource: policySrc,
		Redaction:    redaction,
		RedactionSrc: redactionSrc,
	}
	if err := store.PublishMetadata(meta); err != nil {
		return nil, err
	}
	return &Session{Store: store, Metadata: meta}, nil
}

// Resume reopens an existing session directory by id, loading its
// previously published metadata and assigning a fresh run id for this
// invocation (a session may span multiple `pt` invocations; run_id
// distinguishes them within one session's event stream).
func Resume(root, id string) (*Session, error) {
	store, err := Open(filepath.Join(root, id))
	if err != nil {
		return nil, err
	}
	meta, err := store.LoadMetadata()
	if err != nil {
		return nil, err
	}
	if meta.State.Terminal() {
		return nil, fmt.Errorf("session: %s is %s and cannot be resumed", id, meta.State)
	}
	meta.LastRunID = NewRunID()
	if err := store.PublishMetadata(meta); err != nil {
		return nil, err
	}
	return &Session{Store: store, Metadata: meta}, nil
}

// NewRunID returns a fresh correlation id for one invocation of the pt
// binary, distinct from the session id since a run only ever spans a single
// process lifetime while a session may span several.
func NewRunID() string {
	return uuid.NewString()
}

// Transition validates and publishes a lifecycle state change.
func (s *Session) Transition(next State) error {
	if err := s.Metadata.Transition(next); err != nil {
		return err
	}
	return s.PublishMetadata(s.Metadata)
}
