package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the on-disk representation of one session directory: one JSON
// file per pipeline stage, a metadata.json, and an append-only
// events.jsonl (spec.md §4.6, "Layout").
type Store struct {
	Dir string
}

// Open returns a Store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create session dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) stagePath(stage StageName) string {
	return filepath.Join(s.Dir, string(stage)+".json")
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.Dir, "metadata.json")
}

func (s *Store) eventsPath() string {
	return filepath.Join(s.Dir, "events.jsonl")
}

// PublishStage atomically writes artifact as stage's JSON file
// (write-to-temp, fsync, rename), so a reader never observes a partially
// written stage file (spec.md §4.6, "Writes are atomic").
func (s *Store) PublishStage(stage StageName, artifact any) error {
	if err := atomicWriteJSON(s.stagePath(stage), artifact); err != nil {
		return fmt.Errorf("session: publish stage %s: %w", stage, err)
	}
	return nil
}

// LoadStage reads a previously published stage artifact into out.
func (s *Store) LoadStage(stage StageName, out any) error {
	data, err := os.ReadFile(s.stagePath(stage))
	if err != nil {
		return fmt.Errorf("session: load stage %s: %w", stage, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("session: unmarshal stage %s: %w", stage, err)
	}
	return nil
}

// StageComplete reports whether stage's artifact file exists. Its presence
// is the single source of truth for stage completion; no separate completion
// marker is kept.
func (s *Store) StageComplete(stage StageName) bool {
	_, err := os.Stat(s.stagePath(stage))
	return err == nil
}

// Resume returns the next stage to (re-)enter: the first stage, in the
// pipeline's declared order, that has not completed. A stage completed after
// such a gap is not skipped past. If no stage has completed, it returns the
// first stage.
func (s *Store) Resume() StageName {
	next := stageOrder[0]
	for _, stage := range stageOrder {
		if !s.StageComplete(stage) {
			break
		}
		next = successorOf(stage)
	}
	return next
}

// Done reports whether every stage through outcomes has completed.
func (s *Store) Done() bool {
	return s.StageComplete(StageOutcomes)
}

// StageOrder returns the pipeline's declared stage order, for callers (e.g.
// internal/pipeline's status reporting) that need to enumerate every stage
// without reaching into this package's internals.
func StageOrder() []StageName {
	return append([]StageName{}, stageOrder...)
}

func successorOf(stage StageName) StageName {
	for i, s := range stageOrder {
		if s == stage && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return stage
}

// LoadMetadata reads the session's metadata.json.
func (s *Store) LoadMetadata() (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		return m, fmt.Errorf("session: load metadata: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("session: unmarshal metadata: %w", err)
	}
	return m, nil
}

// PublishMetadata atomically writes m as the session's metadata.json.
func (s *Store) PublishMetadata(m Metadata) error {
	if err := atomicWriteJSON(s.metadataPath(), m); err != nil {
		return fmt.Errorf("session: publish metadata: %w", err)
	}
	return nil
}

// atomicWriteJSON marshals v and installs it at path via a temp file in the
// same directory, fsync, then rename, so a crash mid-write never leaves a
// truncated file at path.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
