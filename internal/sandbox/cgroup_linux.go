//go:build linux

package sandbox

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const cgroupRoot = "/sys/fs/cgroup"

// cgroupSubsystems are the v1 controllers the accountant probes, in the
// order the original implementation checks them.
var cgroupSubsystems = []string{"memory", "cpu", "cpuacct", "pids"}

// cgroupAccountant configures a per-invocation cgroup with memory/cpu/pids
// limits, collects usage on demand, and releases the group on Close. It
// degrades gracefully when a subsystem is unavailable unless Force is set.
type cgroupAccountant struct {
	label   string
	pid     int
	force   bool
	enabled map[string]bool // subsystem -> successfully configured and joined
	paths   map[string]string
}

// newCgroupAccountant probes the v1 hierarchy and configures memory, cpu,
// and pids limits for pid. The group path is "{label}/{label}.{pid}" so
// concurrent invocations sharing a label never collide (§9).
func newCgroupAccountant(opt RunOption, pid int) (*cgroupAccountant, error) {
	a := &cgroupAccountant{
		label:   opt.Label,
		pid:     pid,
		force:   opt.Force,
		enabled: make(map[string]bool),
		paths:   make(map[string]string),
	}

	for _, sub := range cgroupSubsystems {
		base := filepath.Join(cgroupRoot, sub)
		if _, err := os.Stat(base); err != nil {
			if a.force {
				return nil, &CgroupError{Subsystem: sub, Err: fmt.Errorf("controller not mounted: %w", err)}
			}
			log.Printf("catbox: cgroup subsystem %q unavailable, continuing without it", sub)
			continue
		}
		path := filepath.Join(base, opt.Label, fmt.Sprintf("%s.%d", opt.Label, pid))
		if err := os.MkdirAll(path, 0o755); err != nil {
			if a.force {
				return nil, &CgroupError{Subsystem: sub, Err: err}
			}
			log.Printf("catbox: cgroup subsystem %q mkdir failed: %v", sub, err)
			continue
		}
		a.paths[sub] = path

		if err := a.configure(sub, path, opt); err != nil {
			if a.force {
				return nil, &CgroupError{Subsystem: sub, Err: err}
			}
			log.Printf("catbox: cgroup subsystem %q configuration failed: %v", sub, err)
			continue
		}
		a.enabled[sub] = true
	}
	return a, nil
}

func (a *cgroupAccountant) configure(sub, path string, opt RunOption) error {
	switch sub {
	case "memory":
		limit := opt.MemoryLimitKB*1024 + 4096
		if err := writeInt(filepath.Join(path, "memory.limit_in_bytes"), limit); err != nil {
			return err
		}
		if err := writeInt(filepath.Join(path, "memory.soft_limit_in_bytes"), limit); err != nil {
			return err
		}
		// memsw (swap+memory) is best-effort: many kernels ship without swap accounting.
		if err := writeInt(filepath.Join(path, "memory.memsw.limit_in_bytes"), limit); err != nil {
			log.Printf("catbox: memory.memsw.limit_in_bytes unsupported: %v", err)
		}
	case "cpu":
		if err := writeInt(filepath.Join(path, "cpu.cfs_period_us"), 1000000); err != nil {
			return err
		}
		if err := writeInt(filepath.Join(path, "cpu.cfs_quota_us"), 1000000); err != nil {
			return err
		}
	case "pids":
		if err := writeInt(filepath.Join(path, "pids.max"), int64(opt.MaxProcesses)); err != nil {
			return err
		}
	case "cpuacct":
		// no configuration; accounting only
	}
	return nil
}

// AddPID joins the traced process to every successfully configured
// subsystem. A failure marks that one subsystem disabled rather than
// failing the whole accountant (§4.3).
func (a *cgroupAccountant) AddPID(pid int) {
	for sub, path := range a.paths {
		if !a.enabled[sub] {
			continue
		}
		if err := writeInt(filepath.Join(path, "cgroup.procs"), int64(pid)); err != nil {
			log.Printf("catbox: cgroup subsystem %q: adding pid %d failed, disabling: %v", sub, pid, err)
			a.enabled[sub] = false
		}
	}
}

// Usage reads cpuacct and memory counters if enabled, falling back to
// getrusage(RUSAGE_CHILDREN) for whichever half is missing. Counters are
// reset after reading.
func (a *cgroupAccountant) Usage() Usage {
	var u Usage

	if a.enabled["cpuacct"] {
		path := a.paths["cpuacct"]
		total, _ := readInt(filepath.Join(path, "cpuacct.usage"))
		user, _ := readInt(filepath.Join(path, "cpuacct.usage_user"))
		sys, _ := readInt(filepath.Join(path, "cpuacct.usage_sys"))
		u.TimeMs = total / 1_000_000
		u.TimeUserMs = user / 1_000_000
		u.TimeSysMs = sys / 1_000_000
		_ = writeInt(filepath.Join(path, "cpuacct.usage"), 0)
	} else {
		var ru syscall.Rusage
		if err := syscall.Getrusage(syscall.RUSAGE_CHILDREN, &ru); err == nil {
			u.TimeUserMs = timevalMs(ru.Utime)
			u.TimeSysMs = timevalMs(ru.Stime)
			u.TimeMs = u.TimeUserMs + u.TimeSysMs
		}
	}

	if a.enabled["memory"] {
		path := a.paths["memory"]
		memMax, _ := readInt(filepath.Join(path, "memory.max_usage_in_bytes"))
		swMax, _ := readInt(filepath.Join(path, "memory.memsw.max_usage_in_bytes"))
		peak := memMax
		if swMax > peak {
			peak = swMax
		}
		u.MemoryKB = peak / 1024
		_ = writeInt(filepath.Join(path, "memory.max_usage_in_bytes"), 0)
	} else {
		var ru syscall.Rusage
		if err := syscall.Getrusage(syscall.RUSAGE_CHILDREN, &ru); err == nil {
			u.MemoryKB = ru.Maxrss
		}
	}

	return u
}

// Close removes the cgroup directories. Failure is logged, non-fatal.
func (a *cgroupAccountant) Close() {
	if a == nil {
		return
	}
	for sub, path := range a.paths {
		if err := os.Remove(path); err != nil {
			log.Printf("catbox: cgroup subsystem %q: removing %s: %v", sub, path, err)
		}
	}
}

func timevalMs(tv syscall.Timeval) int64 {
	return tv.Sec*1000 + int64(tv.Usec)/1000
}

func writeInt(path string, v int64) error {
	return os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644)
}

func readInt(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}
