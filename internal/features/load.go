package features

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"proctriage/internal/config"
)

// CurrentSignaturesMajor is the schema major version this binary
// understands for the signature document.
const CurrentSignaturesMajor = 1

// signatureDocument is the on-disk shape of the signature configuration
// (spec.md §3 "Signature": "name, category, priority, confidence_weight,
// patterns, priors_overrides, expectations").
type signatureDocument struct {
	SchemaVersion string      `json:"schema_version" yaml:"schema_version"`
	Signatures    []Signature `json:"signatures" yaml:"signatures"`
}

// LoadSignatures resolves the signature document via flag →
// PROCTRIAGE_SIGNATURES env → XDG → built-in default set, compiling every
// pattern before returning so a malformed regular expression fails at load
// time rather than mid-scan.
func LoadSignatures(flagPath string) ([]Signature, config.Source, error) {
	src := resolveSignaturesPath(flagPath)
	if src.Path == "" {
		sigs := DefaultSignatures()
		if err := CompileSignatures(sigs); err != nil {
			return nil, src, fmt.Errorf("compile default signatures: %w", err)
		}
		return sigs, src, nil
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, src, fmt.Errorf("read signatures from %s: %w", src.Path, err)
	}
	var doc signatureDocument
	if err := unmarshalSignaturesByExt(data, filepath.Ext(src.Path), &doc); err != nil {
		return nil, src, fmt.Errorf("parse signatures from %s: %w", src.Path, err)
	}
	if got := schemaMajorOf(doc.SchemaVersion); got != CurrentSignaturesMajor {
		return nil, src, fmt.Errorf("signatures: schema_version major %d unsupported (this binary understands major %d)", got, CurrentSignaturesMajor)
	}
	if err := CompileSignatures(doc.Signatures); err != nil {
		return nil, src, fmt.Errorf("compile signatures from %s: %w", src.Path, err)
	}
	return doc.Signatures, src, nil
}

func resolveSignaturesPath(flagPath string) config.Source {
	if flagPath != "" {
		return config.Source{Path: flagPath, Kind: "flag"}
	}
	if v := os.Getenv("PROCTRIAGE_SIGNATURES"); v != "" {
		return config.Source{Path: v, Kind: "env"}
	}
	if dir := xdgConfigDir(); dir != "" {
		candidate := filepath.Join(dir, "signatures.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return config.Source{Path: candidate, Kind: "xdg"}
		}
	}
	return config.Source{Path: "", Kind: "default"}
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

func unmarshalSignaturesByExt(data []byte, ext string, out any) error {
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

func schemaMajorOf(v string) int {
	if v == "" {
		return CurrentSignaturesMajor
	}
	major := v
	if i := strings.IndexByte(v, '.'); i >= 0 {
		major = v[:i]
	}
	var n int
	if _, err := fmt.Sscanf(major, "%d", &n); err != nil || n == 0 {
		return CurrentSignaturesMajor
	}
	return n
}

// DefaultSignatures returns the built-in signature seed set: enough to
// exercise every category without requiring an operator-supplied signature
// file (spec.md §7 example 2, "jest-worker" orphaned test runner).
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Name:             "jest-worker",
			Category:         CategoryTestRunner,
			Priority:         10,
			ConfidenceWeight: 1.0,
			MinMatches:       1,
			Groups: []PatternGroup{
				{Field: "argv", Patterns: []string{`--jest`, `jest-worker`}},
			},
			PriorsOverrides: map[config.ClassName]config.ClassPriors{
				config.ClassAbandoned: {PriorWeight: 0.6, CPU: config.BetaParams{Alpha: 2, Beta: 6}},
			},
		},
		{
			Name:             "dev-server-nodemon",
			Category:         CategoryDevServer,
			Priority:         8,
			ConfidenceWeight: 0.9,
			MinMatches:       1,
			Groups: []PatternGroup{
				{Field: "comm", Patterns: []string{`^nodemon$`, `^vite$`, `^webpack-dev-server$`}},
			},
		},
		{
			Name:             "agent-shell-tmux",
			Category:         CategoryAgentShell,
			Priority:         5,
			ConfidenceWeight: 0.7,
			MinMatches:       1,
			Groups: []PatternGroup{
				{Field: "env", Patterns: []string{`^TMUX=`, `^STY=`}},
			},
		},
		{
			Name:             "editor-lsp",
			Category:         CategoryEditor,
			Priority:         6,
			ConfidenceWeight: 0.8,
			MinMatches:       1,
			Groups: []PatternGroup{
				{Field: "comm", Patterns: []string{`-langserver$`, `^gopls$`, `^pyright`}},
			},
		},
		{
			Name:             "system-service-init",
			Category:         CategorySystemService,
			Priority:         20,
			ConfidenceWeight: 1.0,
			MinMatches:       1,
			Groups: []PatternGroup{
				{Field: "parent", Patterns: []string{`^systemd$`, `^init$`}},
			},
		},
	}
}
