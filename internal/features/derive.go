package features

import (
	"proctriage/internal/collect"
	"proctriage/internal/config"
	"proctriage/internal/procfs"
)

// Provenance marks whether a derived value came from a full observation or
// was left null because its source probe failed or ran past deadline
// (spec.md §4.2 invariant: "features whose sources failed are present with
// a null value and a provenance: degraded flag").
type Provenance string

const (
	ProvenanceObserved Provenance = "observed"
	ProvenanceDegraded Provenance = "degraded"
	ProvenanceUnknown  Provenance = "unknown" // orphan evaluation's supervisor-unavailable fallback
)

// OrphanStatus is a tri-state: attributed orphans are never conflated with
// "we couldn't tell" (spec.md §4.2 "Orphan evaluation").
type OrphanStatus string

const (
	OrphanYes     OrphanStatus = "yes"
	OrphanNo      OrphanStatus = "no"
	OrphanUnknown OrphanStatus = "unknown"
)

// Bundle is the Derived Feature Bundle per candidate (spec.md §3).
type Bundle struct {
	CPUFraction        float64          `json:"cpu_fraction"`
	CPUFractionProv    Provenance       `json:"cpu_fraction_provenance"`
	NEff               float64          `json:"n_eff"`
	AgeSeconds         float64          `json:"age_seconds"`
	Orphan             OrphanStatus     `json:"orphan"`
	TTYAttached        bool             `json:"tty_attached"`
	Category           Category         `json:"category"`
	Protected          bool             `json:"protected"`
	SignatureMatch     *SignatureRecord `json:"signature_match,omitempty"`
	HasWriteFD         bool             `json:"has_write_fd"` // write-fd to a non-tmp, non-log path (spec.md §4.4 data-loss gate)
	HasOpenSocket      bool             `json:"has_open_socket"`
	WriteFDProv        Provenance       `json:"write_fd_provenance"`
}

// SignatureRecord is the persisted form of a Match (spec.md §3, "signature
// match record: name, priority, confidence weight, overridden priors").
type SignatureRecord struct {
	Name             string                                    `json:"name"`
	Priority         int                                       `json:"priority"`
	ConfidenceWeight float64                                   `json:"confidence_weight"`
	PriorsOverrides  map[config.ClassName]config.ClassPriors   `json:"priors_overrides,omitempty"`
}

// SupervisorLookup answers whether a pid is attributed to a supervisor,
// implemented by internal/collect's tool runner. Injected so this package
// has no import-time dependency on the collector's concrete probe wiring.
type SupervisorLookup interface {
	IsAttributed(pid int) (attributed bool, ok bool) // ok=false means "unavailable", not "no"
}

// Deriver turns raw candidate samples into a Bundle.
type Deriver struct {
	Signatures  []Signature
	Supervisors SupervisorLookup
	ClockHz     int64
}

// Derive builds the feature bundle for one candidate from its time-ordered
// samples. samples[0] is the earliest; the latest sample's fields (comm,
// cwd, ppid, tty) are treated as current state. host is used to convert the
// process's start-time ticks into an absolute age.
func (d *Deriver) Derive(samples []procfs.ProcessSample, host procfs.HostContext) Bundle {
	if len(samples) == 0 {
		return Bundle{CPUFractionProv: ProvenanceDegraded, WriteFDProv: ProvenanceDegraded, Orphan: OrphanUnknown, Category: CategoryOther}
	}
	latest := samples[len(samples)-1]

	deltas := collect.TickDeltas(samples)
	cpuResult := collect.DeriveCPUFraction(deltas, d.ClockHz)
	cpuProv := ProvenanceObserved
	if len(deltas) == 0 {
		cpuProv = ProvenanceDegraded
	}

	ageSeconds := ageFromStartTicks(latest, host)

	orphan := d.evaluateOrphan(latest)

	category := Categorize(latest.Comm, latest.CwdKind)

	cand := Candidate{
		Comm:       latest.Comm,
		Argv:       latest.Cmdline,
		Env:        latest.Env,
		Cwd:        latest.Cwd,
	}
	var sigRecord *SignatureRecord
	if m, ok := BestMatch(d.Signatures, cand); ok {
		category = m.Signature.Category
		sigRecord = &SignatureRecord{
			Name:             m.Signature.Name,
			Priority:         m.Signature.Priority,
			ConfidenceWeight: m.Signature.ConfidenceWeight,
			PriorsOverrides:  m.Signature.PriorsOverrides,
		}
	}

	writeFDProv := ProvenanceObserved
	if latest.Degraded {
		writeFDProv = ProvenanceDegraded
	}

	return Bundle{
		CPUFraction:     cpuResult.CPUFraction,
		CPUFractionProv: cpuProv,
		NEff:            cpuResult.NEff,
		AgeSeconds:      ageSeconds,
		Orphan:          orphan,
		TTYAttached:     latest.TTY != "",
		Category:        category,
		SignatureMatch:  sigRecord,
		HasWriteFD:      latest.WriteFDNonTmpCount > 0,
		HasOpenSocket:   latest.SocketCount > 0,
		WriteFDProv:     writeFDProv,
	}
}

// evaluateOrphan implements spec.md §4.2: orphan is PPID==1 AND
// not-attributed-to-supervisor; when supervisor attribution is unavailable,
// report "unknown" rather than guessing.
func (d *Deriver) evaluateOrphan(latest procfs.ProcessSample) OrphanStatus {
	if latest.PPID != 1 {
		return OrphanNo
	}
	if d.Supervisors == nil {
		return OrphanUnknown
	}
	attributed, ok := d.Supervisors.IsAttributed(latest.Identity.PID)
	if !ok {
		return OrphanUnknown
	}
	if attributed {
		return OrphanNo
	}
	return OrphanYes
}

// ageFromStartTicks converts a process's start-time (ticks since boot) into
// an absolute age in seconds: uptime_at_observation - start_time_seconds.
func ageFromStartTicks(sample procfs.ProcessSample, host procfs.HostContext) float64 {
	if host.ClockTicksPerSec <= 0 {
		return 0
	}
	startSeconds := float64(sample.Identity.StartTimeTicks) / float64(host.ClockTicksPerSec)
	age := host.UptimeSeconds - startSeconds
	if age < 0 {
		return 0
	}
	return age
}
