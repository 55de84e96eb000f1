package session

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"

	"proctriage/internal/config"
	"proctriage/internal/procfs"
)

// RedactSnapshot returns a copy of snap with cmdline, cwd, and env fields
// transformed per policy. It is applied once at the publish boundary; the
// in-core pipeline itself always operates on the unredacted snap (spec.md
// §3, "Redaction is applied at collection and export boundaries only").
func RedactSnapshot(snap procfs.Snapshot, policy config.RedactionPolicy) procfs.Snapshot {
	out := snap
	out.Samples = make([][]procfs.ProcessSample, len(snap.Samples))
	for i, series := range snap.Samples {
		redactedSeries := make([]procfs.ProcessSample, len(series))
		for j, sample := range series {
			redactedSeries[j] = redactSample(sample, policy)
		}
		out.Samples[i] = redactedSeries
	}
	return out
}

func redactSample(sample procfs.ProcessSample, policy config.RedactionPolicy) procfs.ProcessSample {
	if len(sample.Cmdline) > 0 {
		sample.Cmdline = []string{applyRule(strings.Join(sample.Cmdline, " "), policy.RuleFor("cmdline"))}
	}
	if sample.Cwd != "" {
		sample.Cwd = applyRule(sample.Cwd, policy.RuleFor("cwd"))
	}
	if len(sample.Env) > 0 {
		redacted := make([]string, len(sample.Env))
		for i, kv := range sample.Env {
			redacted[i] = applyRule(kv, policy.RuleFor("env"))
		}
		sample.Env = redacted
	}
	return sample
}

func applyRule(value string, rule config.FieldRule) string {
	switch rule.Action {
	case config.RedactAllow:
		return value
	case config.RedactRedact:
		return "[redacted]"
	case config.RedactHash:
		return hashValue(value)
	case config.RedactNormalize:
		return normalizeHomePath(value)
	case config.RedactNormalizeAndHash:
		return hashValue(normalizeHomePath(value))
	case config.RedactTruncate:
		if rule.MaxLength > 0 && len(value) > rule.MaxLength {
			return value[:rule.MaxLength] + "…"
		}
		return value
	case config.RedactDetect:
		return detectAndMask(value, rule.Patterns)
	default:
		return "[redacted]"
	}
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}

func normalizeHomePath(value string) string {
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(value, home) {
		return "~" + strings.TrimPrefix(value, home)
	}
	return value
}

// detectAndMask replaces every match of any pattern with a fixed marker,
// used for the "detect" action (e.g. emails, IPs in captured log lines).
// A pattern that fails to compile is skipped rather than failing the whole
// redaction, since a malformed pattern in a hand-edited policy document
// should degrade one rule, not the export.
func detectAndMask(value string, patterns []string) string {
	out := value
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, "[matched]")
	}
	return out
}
