package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCapabilities_HasTool(t *testing.T) {
	caps := Capabilities{Tools: map[string]ToolCapability{
		"lsof": {Available: true, Path: "/usr/bin/lsof"},
		"perf": {Available: false},
	}}
	tests := []struct {
		name string
		tool string
		want bool
	}{
		{name: "available tool", tool: "lsof", want: true},
		{name: "declared but unavailable", tool: "perf", want: false},
		{name: "unknown tool", tool: "strace", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := caps.HasTool(tt.tool); got != tt.want {
				t.Errorf("HasTool(%q) = %v, want %v", tt.tool, got, tt.want)
			}
		})
	}
}

func TestCapabilities_SupportsSupervisor(t *testing.T) {
	caps := Capabilities{Supervisors: []string{"systemd", "docker"}}
	if !caps.SupportsSupervisor("systemd") {
		t.Error("expected systemd support")
	}
	if caps.SupportsSupervisor("launchd") {
		t.Error("did not expect launchd support")
	}
}

func TestLoadCapabilities_FromStdin(t *testing.T) {
	manifest := `{"schema_version":"1.0","os_family":"linux","arch":"amd64","proc_readable":true}`
	caps, src, err := LoadCapabilities("-", bytes.NewBufferString(manifest))
	if err != nil {
		t.Fatalf("LoadCapabilities: %v", err)
	}
	if src.Kind != "flag" || src.Path != "-" {
		t.Errorf("src = %+v, want flag/-", src)
	}
	if caps.OSFamily != "linux" || !caps.ProcReadable {
		t.Errorf("caps = %+v", caps)
	}
}

func TestLoadCapabilities_FromFlagPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.json")
	manifest := `{"schema_version":"1.0","os_family":"darwin","arch":"arm64"}`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	caps, src, err := LoadCapabilities(path, nil)
	if err != nil {
		t.Fatalf("LoadCapabilities: %v", err)
	}
	if src.Kind != "flag" || caps.OSFamily != "darwin" {
		t.Errorf("src=%+v caps=%+v", src, caps)
	}
}

func TestLoadCapabilities_NoneResolvedIsError(t *testing.T) {
	t.Setenv("PROCTRIAGE_CAPABILITIES", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, _, err := LoadCapabilities("", nil)
	if err == nil {
		t.Fatal("expected error when no capabilities manifest resolves")
	}
}

func TestLoadCapabilities_SchemaVersionMismatch(t *testing.T) {
	_, _, err := LoadCapabilities("-", bytes.NewBufferString(`{"schema_version":"9.0"}`))
	if err == nil {
		t.Fatal("expected schema version error")
	}
}
