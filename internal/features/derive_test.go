package features

import (
	"testing"

	"proctriage/internal/identity"
	"proctriage/internal/procfs"
)

type fakeSupervisorLookup struct {
	attributed map[int]bool
	known      map[int]bool
}

func (f fakeSupervisorLookup) IsAttributed(pid int) (bool, bool) {
	if !f.known[pid] {
		return false, false
	}
	return f.attributed[pid], true
}

func sampleAt(pid, ppid int, startTicks uint64, userTicks, sysTicks uint64, nanos int64) procfs.ProcessSample {
	return procfs.ProcessSample{
		Identity:          identity.Tuple{PID: pid, StartTimeTicks: startTicks},
		PPID:              ppid,
		Comm:              "sleep",
		UserTicks:         userTicks,
		SysTicks:          sysTicks,
		SampledAtUnixNano: nanos,
	}
}

func TestDeriver_Derive_EmptySamplesReturnsDegradedBundle(t *testing.T) {
	d := &Deriver{ClockHz: 100}
	b := d.Derive(nil, procfs.HostContext{})
	if b.CPUFractionProv != ProvenanceDegraded || b.Orphan != OrphanUnknown {
		t.Errorf("bundle = %+v, want degraded/unknown defaults", b)
	}
}

func TestDeriver_Derive_OrphanWithoutSupervisorLookupIsUnknown(t *testing.T) {
	d := &Deriver{ClockHz: 100}
	samples := []procfs.ProcessSample{sampleAt(10, 1, 0, 0, 0, 0)}
	b := d.Derive(samples, procfs.HostContext{ClockTicksPerSec: 100})
	if b.Orphan != OrphanUnknown {
		t.Errorf("Orphan = %q, want unknown", b.Orphan)
	}
}

func TestDeriver_Derive_OrphanAttributedToSupervisorIsNo(t *testing.T) {
	d := &Deriver{
		ClockHz:     100,
		Supervisors: fakeSupervisorLookup{known: map[int]bool{10: true}, attributed: map[int]bool{10: true}},
	}
	samples := []procfs.ProcessSample{sampleAt(10, 1, 0, 0, 0, 0)}
	b := d.Derive(samples, procfs.HostContext{ClockTicksPerSec: 100})
	if b.Orphan != OrphanNo {
		t.Errorf("Orphan = %q, want no (attributed)", b.Orphan)
	}
}

func TestDeriver_Derive_OrphanUnattributedIsYes(t *testing.T) {
	d := &Deriver{
		ClockHz:     100,
		Supervisors: fakeSupervisorLookup{known: map[int]bool{10: true}, attributed: map[int]bool{10: false}},
	}
	samples := []procfs.ProcessSample{sampleAt(10, 1, 0, 0, 0, 0)}
	b := d.Derive(samples, procfs.HostContext{ClockTicksPerSec: 100})
	if b.Orphan != OrphanYes {
		t.Errorf("Orphan = %q, want yes", b.Orphan)
	}
}

func TestDeriver_Derive_NonOrphanNeverConsultsSupervisor(t *testing.T) {
	d := &Deriver{ClockHz: 100} // nil Supervisors would yield "unknown" if consulted
	samples := []procfs.ProcessSample{sampleAt(10, 500, 0, 0, 0, 0)}
	b := d.Derive(samples, procfs.HostContext{ClockTicksPerSec: 100})
	if b.Orphan != OrphanNo {
		t.Errorf("Orphan = %q, want no (ppid != 1)", b.Orphan)
	}
}

func TestDeriver_Derive_AgeFromUptimeAndStartTicks(t *testing.T) {
	d := &Deriver{ClockHz: 100}
	// started at tick 1000 (10s after boot), host now 60s past boot => age 50s.
	samples := []procfs.ProcessSample{sampleAt(10, 1, 1000, 0, 0, 0)}
	b := d.Derive(samples, procfs.HostContext{ClockTicksPerSec: 100, UptimeSeconds: 60})
	if b.AgeSeconds != 50 {
		t.Errorf("AgeSeconds = %v, want 50", b.AgeSeconds)
	}
}

func TestDeriver_Derive_SignatureMatchOverridesCategory(t *testing.T) {
	sigs := mustSignatures(t, []Signature{
		{
			Name:             "pytest-runner",
			Category:         CategoryTestRunner,
			ConfidenceWeight: 1,
			MinMatches:       1,
			Groups:           []PatternGroup{{Field: "comm", Patterns: []string{`^weird-binary$`}}},
		},
	})
	d := &Deriver{ClockHz: 100, Signatures: sigs}
	samples := []procfs.ProcessSample{sampleAt(10, 500, 0, 0, 0, 0)}
	samples[0].Comm = "weird-binary" // categorize.go's table would otherwise call this "other"
	b := d.Derive(samples, procfs.HostContext{ClockTicksPerSec: 100})
	if b.Category != CategoryTestRunner {
		t.Errorf("Category = %q, want test-runner via signature override", b.Category)
	}
	if b.SignatureMatch == nil || b.SignatureMatch.Name != "pytest-runner" {
		t.Errorf("SignatureMatch = %+v, want pytest-runner recorded", b.SignatureMatch)
	}
}
