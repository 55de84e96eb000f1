package collect

import (
	"math"

	"proctriage/internal/procfs"
)

// TickDeltas converts a candidate's consecutive samples into per-interval
// CPU-tick deltas and wall-clock durations, the input to CPUFraction and to
// the change-point detector's delta stream (spec.md §4.1, §4.3).
func TickDeltas(samples []procfs.ProcessSample) []procfs.TickDelta {
	if len(samples) < 2 {
		return nil
	}
	deltas := make([]procfs.TickDelta, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		durSecs := float64(cur.SampledAtUnixNano-prev.SampledAtUnixNano) / 1e9
		if durSecs <= 0 {
			continue
		}
		userDelta := saturatingSub(cur.UserTicks, prev.UserTicks)
		sysDelta := saturatingSub(cur.SysTicks, prev.SysTicks)
		deltas = append(deltas, procfs.TickDelta{
			UserTicks:    userDelta,
			SysTicks:     sysDelta,
			DurationSecs: durSecs,
		})
	}
	return deltas
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0 // counter reset (process restarted under same pid slot); treat as zero usage rather than wrap
	}
	return a - b
}

// CPUFractionResult bundles the derived occupancy fraction with its
// effective sample size, per spec.md §4.1's n_eff formula.
type CPUFractionResult struct {
	CPUFraction float64
	NEff        float64
	NRaw        int
}

// DeriveCPUFraction implements spec.md §4.1: cpu_frac = (Σ d_i) / (Σ T_i·hz);
// n_eff = (Σ T_i)² / (Σ T_i²) · autocorrelation_shrinkage, where shrinkage is
// derived from the first-order autocorrelation of the delta series.
func DeriveCPUFraction(deltas []procfs.TickDelta, clockHz int64) CPUFractionResult {
	if len(deltas) == 0 || clockHz <= 0 {
		return CPUFractionResult{}
	}

	var sumTicks float64
	var sumDur, sumDurSq float64
	series := make([]float64, len(deltas))
	for i, d := range deltas {
		total := float64(d.UserTicks + d.SysTicks)
		series[i] = total
		sumTicks += total
		sumDur += d.DurationSecs
		sumDurSq += d.DurationSecs * d.DurationSecs
	}
	if sumDur <= 0 {
		return CPUFractionResult{}
	}

	cpuFrac := sumTicks / (sumDur * float64(clockHz))
	if cpuFrac > 1 {
		cpuFrac = 1 // multi-threaded processes can exceed 1 core; clamp the *fraction* to [0,1] per single-core-equivalent occupancy
	}

	nRawEff := sumDur * sumDur / sumDurSq
	shrinkage := autocorrelationShrinkage(series)

	return CPUFractionResult{
		CPUFraction: cpuFrac,
		NEff:        nRawEff * shrinkage,
		NRaw:        len(deltas),
	}
}

// autocorrelationShrinkage derives a (0,1] shrinkage factor from the
// series' first-order autocorrelation: highly autocorrelated (smoothly
// trending) usage is treated as carrying less independent information than
// its raw sample count would suggest.
func autocorrelationShrinkage(series []float64) float64 {
	n := len(series)
	if n < 3 {
		return 1
	}
	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n-1; i++ {
		num += (series[i] - mean) * (series[i+1] - mean)
	}
	for i := 0; i < n; i++ {
		den += (series[i] - mean) * (series[i] - mean)
	}
	if den == 0 {
		return 1
	}
	rho := num / den
	if rho < -1 {
		rho = -1
	}
	if rho > 1 {
		rho = 1
	}
	// (1-rho)/(1+rho) is the standard effective-sample-size deflation for an
	// AR(1)-like series; clamp to (0,1] so n_eff never inflates past n_raw.
	shrinkage := (1 - rho) / (1 + rho)
	if shrinkage > 1 {
		shrinkage = 1
	}
	if shrinkage <= 0 || math.IsNaN(shrinkage) {
		shrinkage = 1e-6
	}
	return shrinkage
}
