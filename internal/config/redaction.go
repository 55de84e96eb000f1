package config

import "fmt"

// CurrentRedactionMajor is the schema major version for the redaction
// policy document.
const CurrentRedactionMajor = 1

// RedactionAction is how one field class is treated at a persistence/export
// boundary (spec.md §5, "Redaction is applied only at persistence/export
// boundaries, never in-core").
type RedactionAction string

const (
	RedactAllow           RedactionAction = "allow"
	RedactRedact          RedactionAction = "redact"
	RedactHash            RedactionAction = "hash"
	RedactNormalize       RedactionAction = "normalize"
	RedactNormalizeAndHash RedactionAction = "normalize_and_hash"
	RedactTruncate        RedactionAction = "truncate"
	RedactDetect          RedactionAction = "detect"
)

// FieldRule is one field class's redaction treatment.
type FieldRule struct {
	Action    RedactionAction `json:"action" yaml:"action"`
	MaxLength int             `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Patterns  []string        `json:"patterns,omitempty" yaml:"patterns,omitempty"` // for "detect"
}

// RedactionPolicy maps field-class names (e.g. "cmdline", "env", "cwd",
// "username", "hostname") to their treatment at export time.
type RedactionPolicy struct {
	SchemaVersion string               `json:"schema_version" yaml:"schema_version"`
	Fields        map[string]FieldRule `json:"fields" yaml:"fields"`
	Default       FieldRule            `json:"default" yaml:"default"`
}

// RuleFor returns the configured rule for fieldClass, falling back to the
// policy's default rule when the class is not explicitly listed.
func (p RedactionPolicy) RuleFor(fieldClass string) FieldRule {
	if r, ok := p.Fields[fieldClass]; ok {
		return r
	}
	return p.Default
}

// Validate rejects rules that reference an unknown action, so a typo in a
// hand-edited policy document fails at load time rather than silently
// falling through to "allow" behavior at export time.
func (p RedactionPolicy) Validate() error {
	valid := map[RedactionAction]bool{
		RedactAllow: true, RedactRedact: true, RedactHash: true,
		RedactNormalize: true, RedactNormalizeAndHash: true,
		RedactTruncate: true, RedactDetect: true,
	}
	check := func(name string, r FieldRule) error {
		if !valid[r.Action] {
			return fmt.Errorf("redaction: field %q has unknown action %q", name, r.Action)
		}
		if r.Action == RedactTruncate && r.MaxLength <= 0 {
			return fmt.Errorf("redaction: field %q uses truncate but max_length is unset", name)
		}
		if r.Action == RedactDetect && len(r.Patterns) == 0 {
			return fmt.Errorf("redaction: field %q uses detect but no patterns configured", name)
		}
		return nil
	}
	if err := check("default", p.Default); err != nil {
		return err
	}
	for name, r := range p.Fields {
		if err := check(name, r); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRedactionPolicy returns the built-in policy applied when no
// redaction document resolves. Cmdline is normalized and hashed rather than
// dropped so duplicate-detection and support debugging remain possible
// without retaining raw command lines in exported artifacts; env is redacted
// outright.
func DefaultRedactionPolicy() RedactionPolicy {
	return RedactionPolicy{
		SchemaVersion: "1.0",
		Fields: map[string]FieldRule{
			"cmdline":  {Action: RedactNormalizeAndHash},
			"env":      {Action: RedactRedact},
			"cwd":      {Action: RedactHash},
			"username": {Action: RedactAllow},
			"hostname": {Action: RedactHash},
			"exe_path": {Action: RedactNormalize},
			"log_line": {Action: RedactDetect, Patterns: []string{
				`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
				`\b\d{1,3}(\.\d{1,3}){3}\b`,
			}},
		},
		Default: FieldRule{Action: RedactRedact},
	}
}

// LoadRedactionPolicy resolves the redaction document via flag →
// PROCTRIAGE_REDACTION env → XDG → built-in default.
func LoadRedactionPolicy(flagPath string) (RedactionPolicy, Source, error) {
	src := resolvePath(flagPath, "PROCTRIAGE_REDACTION", "redaction.yaml")
	var p RedactionPolicy
	found, err := loadDocument("redaction", src, CurrentRedactionMajor, &p)
	if err != nil {
		return RedactionPolicy{}, src, err
	}
	if !found {
		p = DefaultRedactionPolicy()
	}
	if err := p.Validate(); err != nil {
		return RedactionPolicy{}, src, err
	}
	return p, src, nil
}
