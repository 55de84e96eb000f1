package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// CurrentCapabilitiesMajor is the schema major version this binary
// understands for the capabilities manifest (spec.md §6).
const CurrentCapabilitiesMajor = 1

// ToolCapability describes one external tool's availability.
type ToolCapability struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Capabilities is the host-capability input manifest. Discovery of these
// facts is explicitly out of scope for the core (spec.md §1); the manifest
// is always supplied, never probed for by this repository.
type Capabilities struct {
	SchemaVersion string                    `json:"schema_version"`
	OSFamily      string                    `json:"os_family"`
	Arch          string                    `json:"arch"`
	Tools         map[string]ToolCapability `json:"tools"`
	Permissions   Permissions               `json:"permissions"`
	ProcReadable  bool                      `json:"proc_readable"`
	CgroupVersion int                       `json:"cgroup_version"`
	Supervisors   []string                  `json:"supervisors"`
}

// Permissions is the manifest's permission-bit section.
type Permissions struct {
	Sudo  bool `json:"sudo"`
	Ptrace bool `json:"ptrace"`
	Perf  bool `json:"perf"`
	EBPF  bool `json:"ebpf"`
}

// HasTool reports whether name is present and marked available.
func (c Capabilities) HasTool(name string) bool {
	t, ok := c.Tools[name]
	return ok && t.Available
}

// SupportsSupervisor reports whether the named supervisor kind (systemd,
// launchd, docker, ...) was asserted available in the manifest.
func (c Capabilities) SupportsSupervisor(kind string) bool {
	for _, s := range c.Supervisors {
		if s == kind {
			return true
		}
	}
	return false
}

// LoadCapabilities resolves and parses the capabilities manifest via flag →
// PROCTRIAGE_CAPABILITIES env → XDG. The manifest is read from stdin only
// when flagPath is exactly "-"; stdin is not a fallback. There is no
// built-in default manifest: when nothing resolves, it returns an error.
func LoadCapabilities(flagPath string, stdin io.Reader) (Capabilities, Source, error) {
	if flagPath == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return Capabilities{}, Source{}, fmt.Errorf("read capabilities from stdin: %w", err)
		}
		var caps Capabilities
		if err := checkSchemaVersion("capabilities", data, ".json", CurrentCapabilitiesMajor); err != nil {
			return Capabilities{}, Source{}, err
		}
		if err := json.Unmarshal(data, &caps); err != nil {
			return Capabilities{}, Source{}, fmt.Errorf("parse capabilities from stdin: %w", err)
		}
		return caps, Source{Path: "-", Kind: "flag"}, nil
	}

	src := resolvePath(flagPath, "PROCTRIAGE_CAPABILITIES", "capabilities.json")
	var caps Capabilities
	found, err := loadDocument("capabilities", src, CurrentCapabilitiesMajor, &caps)
	if err != nil {
		return Capabilities{}, src, err
	}
	if !found {
		return Capabilities{}, src, fmt.Errorf("no capabilities manifest resolved (flag/env/xdg all empty); the installer wrapper is expected to supply one")
	}
	return caps, src, nil
}

// LoadCapabilitiesFile is a convenience wrapper for tests and non-stdin
// callers that already know the exact path.
func LoadCapabilitiesFile(path string) (Capabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Capabilities{}, err
	}
	var caps Capabilities
	if err := checkSchemaVersion("capabilities", data, ".json", CurrentCapabilitiesMajor); err != nil {
		return Capabilities{}, err
	}
	if err := json.Unmarshal(data, &caps); err != nil {
		return Capabilities{}, err
	}
	return caps, nil
}
