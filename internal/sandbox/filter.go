package sandbox

import "strings"

// permKind distinguishes the three modes a SyscallFilter entry may take.
type permKind int

const (
	permForbid permKind = iota
	permAllow
	permPredicate
)

// Registers is a portable snapshot of the syscall ptrace intercepted: its
// number and first six arguments, in the order ptrace(PTRACE_GETREGS)
// reports them on the traced child. It carries no platform-specific type
// so this file compiles on every GOOS/GOARCH; engine_linux.go is
// responsible for populating it from syscall.PtraceRegs.
type Registers struct {
	Nr   uint64
	Args [6]uint64
}

// PredicateFunc decides, per call, whether a syscall stopped by ptrace may
// proceed. pid is the traced process; regs holds the syscall number and
// its first six arguments at the moment of the stop, so a predicate can
// inspect syscall arguments, not just the syscall number.
type PredicateFunc func(pid int, regs Registers) bool

// syscallPerm is one entry in a SyscallFilter's map.
type syscallPerm struct {
	kind   permKind
	quota  int32 // meaningful only when kind == permAllow
	predFn PredicateFunc
}

// SyscallFilter is a black-list policy keyed by syscall number. A syscall
// absent from the map is always allowed.
type SyscallFilter struct {
	entries map[uint64]syscallPerm
}

// NewSyscallFilter returns an empty filter: every syscall is allowed.
func NewSyscallFilter() *SyscallFilter {
	return &SyscallFilter{entries: make(map[uint64]syscallPerm)}
}

// Forbid marks nr as always denied.
func (f *SyscallFilter) Forbid(nr uint64) {
	f.entries[nr] = syscallPerm{kind: permForbid}
}

// Allow marks nr as permitted up to quota times; the quota-th+1 call is
// denied. A quota of 0 forbids immediately.
func (f *SyscallFilter) Allow(nr uint64, quota int32) {
	f.entries[nr] = syscallPerm{kind: permAllow, quota: quota}
}

// AllowPredicate marks nr as decided per-call by fn.
func (f *SyscallFilter) AllowPredicate(nr uint64, fn PredicateFunc) {
	f.entries[nr] = syscallPerm{kind: permPredicate, predFn: fn}
}

// Check evaluates the filter for one intercepted syscall, given its number
// and arguments. It mutates quota state in place, matching the parent
// supervision loop's single-threaded access pattern (see engine_linux.go).
func (f *SyscallFilter) Check(pid int, regs Registers) bool {
	nr := regs.Nr
	perm, ok := f.entries[nr]
	if !ok {
		return true
	}
	switch perm.kind {
	case permForbid:
		return false
	case permAllow:
		if perm.quota <= 0 {
			return false
		}
		perm.quota--
		f.entries[nr] = perm
		return true
	case permPredicate:
		return perm.predFn(pid, regs)
	default:
		return true
	}
}

// ApplyNetworkPreset forbids the syscalls that create or configure network
// endpoints.
func (f *SyscallFilter) ApplyNetworkPreset() {
	for _, nr := range networkSyscalls() {
		f.Forbid(nr)
	}
}

// ApplyProcessPreset allows execve/execveat exactly once (so the prelude's
// own exec succeeds) and forbids every other process-creation syscall.
func (f *SyscallFilter) ApplyProcessPreset() {
	for _, nr := range execSyscalls() {
		f.Allow(nr, 1)
	}
	for _, nr := range forkSyscalls() {
		f.Forbid(nr)
	}
}

// DefaultSyscallFilter composes the Network and Process presets, matching
// the filter a RunOption gets when SyscallFilter is requested without an
// explicit preset list.
func DefaultSyscallFilter() *SyscallFilter {
	f := NewSyscallFilter()
	f.ApplyNetworkPreset()
	f.ApplyProcessPreset()
	return f
}

// ParsePresets parses a space- or comma-separated preset list:
// none, net/network, process, all. Unknown tokens are a CLIError.
func ParsePresets(spec string) (*SyscallFilter, error) {
	f := NewSyscallFilter()
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return f, nil
	}
	for _, tok := range fields {
		switch strings.ToLower(tok) {
		case "none":
			// no-op; explicit token for clarity at the CLI layer
		case "net", "network":
			f.ApplyNetworkPreset()
		case "process":
			f.ApplyProcessPreset()
		case "all":
			f.ApplyNetworkPreset()
			f.ApplyProcessPreset()
		default:
			return nil, &CLIError{Input: tok, Err: errUnknownPreset}
		}
	}
	return f, nil
}

type presetErr string

func (e presetErr) Error() string { return string(e) }

var errUnknownPreset = presetErr("unknown syscall filter preset")
