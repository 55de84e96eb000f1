// Package collect orchestrates the Collector: bounded quick and deep scans
// over process samples, producing the Snapshot that internal/features
// consumes.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"proctriage/internal/config"
	"proctriage/internal/logging"
	"proctriage/internal/procfs"
)

// Options configures one scan invocation.
type Options struct {
	Profile        Profile
	Concurrency    int           // probe pool ceiling; default min(4, NumCPU) when zero
	QuickSampleGap time.Duration // spacing between quick-scan samples, default 500ms
	MinPosterior   float64       // deep-scan admission threshold, provided by the caller after inference on the quick scan
}

// Profile is the scan depth (spec.md §4.1).
type Profile string

const (
	ProfileQuick Profile = "quick"
	ProfileDeep  Profile = "deep"
)

// Collector produces reproducible, bounded snapshots of process state.
type Collector struct {
	reader  *procfs.Reader
	tools   *ToolRunner
	selfPID int
	logger  *slog.Logger
}

// New builds a Collector against the live /proc filesystem.
func New(caps config.Capabilities) *Collector {
	return newWithReader(procfs.NewReader(), caps)
}

// newWithReader builds a Collector against an arbitrary Reader, letting
// tests substitute a fixture procfs root instead of the live kernel.
func newWithReader(reader *procfs.Reader, caps config.Capabilities) *Collector {
	return &Collector{
		reader:  reader,
		tools:   NewToolRunner(caps),
		selfPID: os.Getpid(),
		logger:  logging.New("collector"),
	}
}

// Quick performs the three-sample, 500ms-apart quick scan (spec.md §4.1).
// No per-process probes run between samples; only the process table and
// cheap per-pid files are read.
func (c *Collector) Quick(ctx context.Context, opts Options) (procfs.Snapshot, error) {
	gap := opts.QuickSampleGap
	if gap <= 0 {
		gap = 500 * time.Millisecond
	}

	host, err := c.reader.ReadHostContext()
	if err != nil {
		return procfs.Snapshot{}, fmt.Errorf("read host context: %w", err)
	}

	// candidate pid -> its samples over time, preserving first-seen order.
	order := []int{}
	byPID := map[int][]procfs.ProcessSample{}

	for i := 0; i < 3; i++ {
		if err := ctx.Err(); err != nil {
			return procfs.Snapshot{}, err
		}
		now := time.Now()
		pids, err := c.reader.ListPIDs()
		if err != nil {
			return procfs.Snapshot{}, fmt.Errorf("list pids: %w", err)
		}
		for _, pid := range pids {
			if pid == c.selfPID {
				continue
			}
			sample, err := c.reader.ReadSample(pid, host.BootID, now.UnixNano())
			if err != nil {
				// Process exited between readdir and read; not an error for the scan.
				continue
			}
			if _, seen := byPID[pid]; !seen {
				order = append(order, pid)
			}
			byPID[pid] = append(byPID[pid], sample)
		}
		if i < 2 {
			select {
			case <-ctx.Done():
				return procfs.Snapshot{}, ctx.Err()
			case <-time.After(gap):
			}
		}
	}

	samples := make([][]procfs.ProcessSample, 0, len(order))
	for _, pid := range order {
		samples = append(samples, byPID[pid])
	}

	return procfs.Snapshot{
		ScanProfile: string(ProfileQuick),
		Host:        host,
		Samples:     samples,
	}, nil
}

// candidateProbeResult is the per-candidate outcome of the bounded probe
// pool, keyed by index so results can be written back deterministically
// despite unordered goroutine completion.
type candidateProbeResult struct {
	sample procfs.ProcessSample
	err    error
}

// Deep augments the given quick-scan candidates (already filtered by the
// caller to those ranked above opts.MinPosterior) with per-process probes:
// open file descriptors, socket join, exe identity, supervisor attribution.
// Failure to probe one candidate never fails the scan (spec.md §4.1); it is
// recorded as a degraded sample instead.
func (c *Collector) Deep(ctx context.Context, host procfs.HostContext, candidates []procfs.ProcessSample, opts Options) ([]procfs.ProcessSample, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency()
	}

	results := make([]candidateProbeResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, base := range candidates {
		i, base := i, base
		g.Go(func() error {
			results[i] = c.probeOne(gctx, base)
			return nil
		})
	}
	_ = g.Wait() // per-candidate errors are captured in results[i].err, never fatal to the scan

	out := make([]procfs.ProcessSample, len(candidates))
	for i, r := range results {
		if r.err != nil {
			s := candidates[i]
			s.Degraded = true
			s.DegradedWhy = r.err.Error()
			out[i] = s
			continue
		}
		out[i] = r.sample
	}
	return out, nil
}

// probeOne runs every deep-scan probe for one candidate under the tool
// runner's per-tool deadline and byte cap.
func (c *Collector) probeOne(ctx context.Context, sample procfs.ProcessSample) candidateProbeResult {
	writeFDs, nonTmpWriteFDs, sockets, err := c.tools.ProbeFDs(ctx, sample.Identity.PID)
	if err != nil {
		sample.Degraded = true
		sample.DegradedWhy = err.Error()
	} else {
		sample.WriteFDCount = writeFDs
		sample.WriteFDNonTmpCount = nonTmpWriteFDs
		sample.SocketCount = sockets
	}

	kind, unit, err := c.tools.ProbeSupervisor(ctx, sample.Identity.PID, sample.CgroupPath)
	if err == nil {
		sample.SupervisorKind = kind
		sample.SupervisorUnit = unit
	}

	return candidateProbeResult{sample: sample}
}

func defaultConcurrency() int {
	n := 4
	if cpus := runtime.NumCPU(); cpus < n {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}
