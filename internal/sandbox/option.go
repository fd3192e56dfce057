package sandbox

import (
	"os"
	"os/user"
	"strconv"
	"time"
)

const (
	defaultTimeLimitMs    = 1000
	defaultMemoryLimitKB  = 262144
	defaultMaxProcesses   = 1
	defaultMaxOutputBytes = 256 * 1024 * 1024
	defaultLabel          = "catbox"

	// StackUnbounded is the sentinel StackSizeBytes value meaning
	// RLIM_INFINITY; any other value is an exact byte count.
	StackUnbounded = ^uint64(0)
)

// RunOption is the immutable configuration for one child invocation. It is
// constructed once (via OptionBuilder) before the engine forks, and is safe
// to read from both sides of the fork barrier.
type RunOption struct {
	Label          string
	TimeLimitMs    int64
	MemoryLimitKB  int64
	StackSizeBytes uint64
	MaxOutputBytes int64
	MaxProcesses   int

	Program   string
	Arguments []string

	UID uint32
	GID uint32

	ChrootRoot string
	Cwd        string
	Mounts     []MountSpec

	Env [][2]string

	Stdin, Stdout, Stderr string // host paths; empty means "inherited"

	Filter *SyscallFilter
	Force  bool
	Debug  bool
}

// OptionBuilder constructs a RunOption through fluent method chaining. The
// builder is mutable; Build() freezes it into the RunOption the engine
// actually consumes.
type OptionBuilder struct {
	opt RunOption
	cwd string
	err error
}

// NewOption returns a builder pre-populated with catbox's defaults: a
// 1-second CPU limit, a 256MiB memory limit, a single allowed process, the
// "nobody"/"nogroup" account, the default read-only system mounts, and
// tracing enabled with the default (Network+Process) syscall filter.
func NewOption(program string, args []string) *OptionBuilder {
	cwd, _ := os.Getwd()
	uid, gid := lookupNobody()
	return &OptionBuilder{
		cwd: cwd,
		opt: RunOption{
			Label:          defaultLabel,
			TimeLimitMs:    defaultTimeLimitMs,
			MemoryLimitKB:  defaultMemoryLimitKB,
			StackSizeBytes: StackUnbounded,
			MaxOutputBytes: defaultMaxOutputBytes,
			MaxProcesses:   defaultMaxProcesses,
			Program:        program,
			Arguments:      args,
			UID:            uid,
			GID:            gid,
			Cwd:            cwd,
			Mounts:         defaultMounts(),
			Filter:         DefaultSyscallFilter(),
			Env:            inheritedPath(),
		},
	}
}

// lookupNobody resolves the system "nobody"/"nogroup" account, falling back
// to the conventional 65534 when the lookup fails (e.g. a minimal jail
// build image with no /etc/passwd).
func lookupNobody() (uint32, uint32) {
	const fallback = 65534
	u, err := user.Lookup("nobody")
	if err != nil {
		return fallback, fallback
	}
	uid, err1 := strconv.ParseUint(u.Uid, 10, 32)
	gid, err2 := strconv.ParseUint(u.Gid, 10, 32)
	if err1 != nil || err2 != nil {
		return fallback, fallback
	}
	return uint32(uid), uint32(gid)
}

func inheritedPath() [][2]string {
	if p, ok := os.LookupEnv("PATH"); ok {
		return [][2]string{{"PATH", p}}
	}
	return nil
}

func (b *OptionBuilder) TimeLimit(d time.Duration) *OptionBuilder {
	b.opt.TimeLimitMs = d.Milliseconds()
	return b
}

func (b *OptionBuilder) MemoryLimitKB(kb int64) *OptionBuilder {
	b.opt.MemoryLimitKB = kb
	return b
}

func (b *OptionBuilder) StackSize(bytes uint64) *OptionBuilder {
	b.opt.StackSizeBytes = bytes
	return b
}

func (b *OptionBuilder) MaxProcesses(n int) *OptionBuilder {
	b.opt.MaxProcesses = n
	return b
}

func (b *OptionBuilder) UID(uid uint32) *OptionBuilder {
	b.opt.UID = uid
	return b
}

func (b *OptionBuilder) GID(gid uint32) *OptionBuilder {
	b.opt.GID = gid
	return b
}

func (b *OptionBuilder) Label(label string) *OptionBuilder {
	b.opt.Label = label
	return b
}

func (b *OptionBuilder) Chroot(root string) *OptionBuilder {
	b.opt.ChrootRoot = root
	return b
}

func (b *OptionBuilder) Cwd(dir string) *OptionBuilder {
	b.opt.Cwd = dir
	return b
}

// Mount appends a pre-built MountSpec.
func (b *OptionBuilder) Mount(m MountSpec) *OptionBuilder {
	b.opt.Mounts = append(b.opt.Mounts, m)
	return b
}

// MountString parses and appends the "src", "src:dst", or "src:dst:rw" CLI
// shorthand. A parse failure is recorded and surfaces from Build().
func (b *OptionBuilder) MountString(spec string) *OptionBuilder {
	m, err := parseMountString(spec, b.cwd)
	if err != nil {
		b.err = err
		return b
	}
	return b.Mount(m)
}

func (b *OptionBuilder) Stdin(path string) *OptionBuilder {
	b.opt.Stdin = path
	return b
}

func (b *OptionBuilder) Stdout(path string) *OptionBuilder {
	b.opt.Stdout = path
	return b
}

func (b *OptionBuilder) Stderr(path string) *OptionBuilder {
	b.opt.Stderr = path
	return b
}

// Env appends a single environment variable; PATH set this way overrides
// the inherited default.
func (b *OptionBuilder) Env(key, value string) *OptionBuilder {
	for i, kv := range b.opt.Env {
		if kv[0] == key {
			b.opt.Env[i][1] = value
			return b
		}
	}
	b.opt.Env = append(b.opt.Env, [2]string{key, value})
	return b
}

// Filter installs a prebuilt syscall filter, enabling ptrace.
func (b *OptionBuilder) Filter(f *SyscallFilter) *OptionBuilder {
	b.opt.Filter = f
	return b
}

// NoTrace disables ptrace entirely. Distinct from an empty ("none" preset)
// filter: an empty filter still traces the child and allows everything,
// whereas NoTrace never calls ptrace(TRACEME) at all.
func (b *OptionBuilder) NoTrace() *OptionBuilder {
	b.opt.Filter = nil
	return b
}

// FilterPreset parses a preset string (see ParsePresets) and installs it.
func (b *OptionBuilder) FilterPreset(spec string) *OptionBuilder {
	f, err := ParsePresets(spec)
	if err != nil {
		b.err = err
		return b
	}
	b.opt.Filter = f
	return b
}

func (b *OptionBuilder) Force(force bool) *OptionBuilder {
	b.opt.Force = force
	return b
}

func (b *OptionBuilder) Debug(debug bool) *OptionBuilder {
	b.opt.Debug = debug
	return b
}

// Build freezes the builder into a RunOption, or returns the first parse
// error recorded by MountString/FilterPreset.
func (b *OptionBuilder) Build() (RunOption, error) {
	if b.err != nil {
		return RunOption{}, b.err
	}
	return b.opt, nil
}
