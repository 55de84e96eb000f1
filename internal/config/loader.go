// Package config resolves the four JSON/YAML documents the core consumes:
// the capabilities manifest, priors, policy, and redaction policy
// (spec.md §6). Resolution precedence is explicit flag → environment
// variable → XDG config directory → built-in defaults, format-sniffed by
// file extension with a content-based fallback.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source records where a resolved document came from, for the session
// metadata's "resolved source path" requirement (spec.md §6).
type Source struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "flag", "env", "xdg", "default"
}

// ErrSchemaVersion is returned when a document's schema_version major
// component does not match a version this binary understands.
type ErrSchemaVersion struct {
	Document string
	Got      int
	Want     int
}

func (e *ErrSchemaVersion) Error() string {
	return fmt.Sprintf("%s: schema_version major %d unsupported (this binary understands major %d)", e.Document, e.Got, e.Want)
}

// versioned is the minimal shape every config document embeds so the loader
// can check compatibility before the caller unmarshals the full structure.
type versioned struct {
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`
}

// schemaMajor extracts the leading integer component of a "major.minor"
// (or bare "major") schema_version string. An empty or unparsable version is
// treated as major 1, so hand-written fixtures without an explicit version
// still load during development.
func schemaMajor(v string) int {
	if v == "" {
		return 1
	}
	major := v
	if i := strings.IndexByte(v, '.'); i >= 0 {
		major = v[:i]
	}
	var n int
	if _, err := fmt.Sscanf(major, "%d", &n); err != nil || n == 0 {
		return 1
	}
	return n
}

// checkSchemaVersion validates data's schema_version against wantMajor
// before the caller unmarshals the full document.
func checkSchemaVersion(document string, data []byte, ext string, wantMajor int) error {
	var v versioned
	if err := unmarshalByExt(data, ext, &v); err != nil {
		return fmt.Errorf("%s: parse schema_version: %w", document, err)
	}
	if got := schemaMajor(v.SchemaVersion); got != wantMajor {
		return &ErrSchemaVersion{Document: document, Got: got, Want: wantMajor}
	}
	return nil
}

// unmarshalByExt parses data as YAML or JSON depending on ext, detecting
// from content when ext is empty.
func unmarshalByExt(data []byte, ext string, out any) error {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	switch ext {
	case ".yaml":
		return yaml.Unmarshal(data, out)
	case ".json":
		return json.Unmarshal(data, out)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return json.Unmarshal(data, out)
	}
	return yaml.Unmarshal(data, out)
}

// resolvePath implements the flag → env → XDG → default precedence chain.
// xdgRelPath is the file name to look for under $XDG_CONFIG_HOME/proctriage
// (or ~/.config/proctriage as fallback).
func resolvePath(flagPath, envVar, xdgRelPath string) Source {
	if flagPath != "" {
		return Source{Path: flagPath, Kind: "flag"}
	}
	if v := os.Getenv(envVar); v != "" {
		return Source{Path: v, Kind: "env"}
	}
	if xdgRelPath != "" {
		if dir := xdgConfigDir(); dir != "" {
			candidate := filepath.Join(dir, xdgRelPath)
			if _, err := os.Stat(candidate); err == nil {
				return Source{Path: candidate, Kind: "xdg"}
			}
		}
	}
	return Source{Path: "", Kind: "default"}
}

func xdgConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "proctriage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "proctriage")
}

// loadDocument reads and schema-checks a document at src.Path into out and
// reports true, or returns (false, nil) when src is a "default" source (no
// file on disk) so the caller substitutes a built-in default value.
func loadDocument(document string, src Source, wantMajor int, out any) (bool, error) {
	if src.Path == "" {
		return false, nil
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return false, fmt.Errorf("read %s from %s: %w", document, src.Path, err)
	}
	ext := filepath.Ext(src.Path)
	if err := checkSchemaVersion(document, data, ext, wantMajor); err != nil {
		return false, err
	}
	if err := unmarshalByExt(data, ext, out); err != nil {
		return false, fmt.Errorf("parse %s from %s: %w", document, src.Path, err)
	}
	return true, nil
}
