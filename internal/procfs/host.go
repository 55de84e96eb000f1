package procfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ReadHostContext gathers load average, memory, and cpu-count context
// alongside a scan (spec.md §4.1 Collector contract).
func (r *Reader) ReadHostContext() (HostContext, error) {
	bootID, err := r.BootID()
	if err != nil {
		return HostContext{}, err
	}
	load1, load5, load15, err := r.readLoadAvg()
	if err != nil {
		return HostContext{}, err
	}
	total, avail, err := r.readMemInfo()
	if err != nil {
		return HostContext{}, err
	}
	uptime, err := r.readUptime()
	if err != nil {
		return HostContext{}, err
	}
	return HostContext{
		LoadAvg1:         load1,
		LoadAvg5:         load5,
		LoadAvg15:        load15,
		MemTotalBytes:    total,
		MemAvailBytes:    avail,
		CPUCount:         runtime.NumCPU(),
		ClockTicksPerSec: r.ClockTicksHz,
		BootID:           bootID,
		UptimeSeconds:    uptime,
	}, nil
}

// readUptime parses the first field of /proc/uptime: seconds since boot.
// Process age is derived from this rather than wall-clock time so it stays
// correct across NTP adjustments and daylight-saving transitions.
func (r *Reader) readUptime() (float64, error) {
	data, err := os.ReadFile(filepath.Join(r.Root, "uptime"))
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed uptime")
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse uptime: %w", err)
	}
	return v, nil
}

func (r *Reader) readLoadAvg() (l1, l5, l15 float64, err error) {
	data, err := os.ReadFile(filepath.Join(r.Root, "loadavg"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("malformed loadavg")
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return l1, l5, l15, nil
}

func (r *Reader) readMemInfo() (totalBytes, availBytes uint64, err error) {
	f, err := os.Open(filepath.Join(r.Root, "meminfo"))
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		var kb uint64
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			kb = parseMemInfoKB(line)
			totalBytes = kb * 1024
		case strings.HasPrefix(line, "MemAvailable:"):
			kb = parseMemInfoKB(line)
			availBytes = kb * 1024
		}
	}
	return totalBytes, availBytes, nil
}

func parseMemInfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}
