//go:build linux && amd64

package sandbox

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// reExecSentinel is the argv[0]-following marker that tells this same
// binary's main() to run the privileged child prelude instead of the
// normal cobra command tree. See §4.5's "re-exec init shim" design note.
const reExecSentinel = "__catbox_child_init__"

// childConfig is the on-disk (JSON, temp file) contract between the
// parent and the re-exec'd child prelude. It carries only what the
// prelude needs; the syscall filter itself lives solely in the parent,
// which is the only process that ever evaluates it.
type childConfig struct {
	Program        string      `json:"program"`
	Arguments      []string    `json:"arguments"`
	UID            uint32      `json:"uid"`
	GID            uint32      `json:"gid"`
	ChrootRoot     string      `json:"chroot_root"`
	Cwd            string      `json:"cwd"`
	Mounts         []MountSpec `json:"mounts"`
	Env            [][2]string `json:"env"`
	Stdin          string      `json:"stdin"`
	Stdout         string      `json:"stdout"`
	Stderr         string      `json:"stderr"`
	TimeLimitMs    int64       `json:"time_limit_ms"`
	StackSizeBytes uint64      `json:"stack_size_bytes"`
	MaxOutputBytes int64       `json:"max_output_bytes"`
	Trace          bool        `json:"trace"`
}

// Run forks (via re-exec), configures, and supervises one child per opt,
// returning the fused Result once the child has terminated (§4.5).
func Run(opt RunOption) (Result, error) {
	cfg := childConfig{
		Program:        opt.Program,
		Arguments:      opt.Arguments,
		UID:            opt.UID,
		GID:            opt.GID,
		ChrootRoot:     opt.ChrootRoot,
		Cwd:            opt.Cwd,
		Mounts:         opt.Mounts,
		Env:            opt.Env,
		Stdin:          opt.Stdin,
		Stdout:         opt.Stdout,
		Stderr:         opt.Stderr,
		TimeLimitMs:    opt.TimeLimitMs,
		StackSizeBytes: opt.StackSizeBytes,
		MaxOutputBytes: opt.MaxOutputBytes,
		Trace:          opt.Filter != nil,
	}

	cfgFile, err := os.CreateTemp("", "catbox-cfg-*.json")
	if err != nil {
		return Result{}, &ForkError{Err: err}
	}
	defer os.Remove(cfgFile.Name())
	if err := json.NewEncoder(cfgFile).Encode(cfg); err != nil {
		cfgFile.Close()
		return Result{}, &ForkError{Err: err}
	}
	cfgFile.Close()

	r, w, err := newErrPipe()
	if err != nil {
		return Result{}, err
	}

	self, err := os.Executable()
	if err != nil {
		return Result{}, &ForkError{Err: err}
	}

	cmd := exec.Command(self, reExecSentinel, cfgFile.Name())
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.ExtraFiles = []*os.File{w}

	// ptrace ties a tracee to whichever OS thread receives its TRACEME stop
	// (the thread that did the fork, here cmd.Start's clone). Every later
	// wait4/PtraceCont/PtraceGetRegs on this pid must come from that same
	// thread, so the whole fork+supervise sequence runs on a single thread
	// locked for the goroutine's lifetime rather than wherever the
	// scheduler happens to place it.
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := cmd.Start(); err != nil {
			w.Close()
			r.Close()
			done <- outcome{err: &ForkError{Err: err}}
			return
		}
		w.Close() // parent's copy; the child holds its own duplicate at fd 3
		defer r.Close()

		pid := cmd.Process.Pid

		accountant, err := newCgroupAccountant(opt, pid)
		if err != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			done <- outcome{err: err}
			return
		}
		accountant.AddPID(pid)
		defer accountant.Close()
		defer teardownJail(opt.ChrootRoot, opt.Mounts)

		result, err := supervise(pid, opt.Filter, opt.Debug)
		if err != nil {
			done <- outcome{err: err}
			return
		}

		if msg := readPipeMessage(r); msg != "" && strings.HasPrefix(msg, "Execvpe fails: ") {
			done <- outcome{err: &ExecError{Message: msg}}
			return
		}

		result.Usage = accountant.Usage()
		done <- outcome{result: result}
	}()

	out := <-done
	return out.result, out.err
}

// supervise runs the parent waitpid/ptrace state machine (§4.5.2) until
// the child exits or is fatally signaled, carrying last_observed_stop_signal
// across the loop so a forwarded signal is never lost to a subsequent
// normal-looking exit. With debug set, every ptrace stop and every filter
// decision is logged.
func supervise(pid int, filter *SyscallFilter, debug bool) (Result, error) {
	var (
		ws             syscall.WaitStatus
		lastStopSig    syscall.Signal
		hasLastStopSig bool
	)

	for {
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return Result{}, &SyscallError{Op: "wait4", Err: err}
		}

		switch {
		case ws.Exited():
			status := ws.ExitStatus()
			res := Result{Status: &status}
			if hasLastStopSig {
				name := signalName(lastStopSig)
				res.Status = nil
				res.Signal = &name
			}
			return res, nil

		case ws.Signaled():
			name := signalName(ws.Signal())
			return Result{Signal: &name}, nil

		case ws.Stopped():
			sig := ws.StopSignal()
			if debug {
				log.Printf("catbox: pid %d stopped by %s", pid, signalName(sig))
			}
			switch sig {
			case syscall.SIGALRM, syscall.SIGVTALRM, syscall.SIGXCPU:
				lastStopSig, hasLastStopSig = sig, true
				if err := syscall.PtraceCont(pid, int(sig)); err != nil {
					return Result{}, &SyscallError{Op: "ptrace(cont)", Err: err}
				}

			case syscall.SIGBUS, syscall.SIGFPE, syscall.SIGILL, syscall.SIGSEGV,
				syscall.SIGSYS, syscall.SIGXFSZ, syscall.SIGABRT:
				lastStopSig, hasLastStopSig = sig, true
				if err := syscall.PtraceCont(pid, int(sig)); err != nil {
					return Result{}, &SyscallError{Op: "ptrace(cont)", Err: err}
				}

			case syscall.SIGTRAP:
				var regs syscall.PtraceRegs
				if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
					log.Printf("catbox: ptrace(getregs) failed, allowing syscall: %v", err)
					if err := syscall.PtraceSyscall(pid, 0); err != nil {
						return Result{}, &SyscallError{Op: "ptrace(syscall)", Err: err}
					}
					continue
				}
				allowed := true
				if filter != nil {
					allowed = filter.Check(pid, Registers{
						Nr:   regs.Orig_rax,
						Args: [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9},
					})
				}
				if debug {
					log.Printf("catbox: pid %d syscall %d allowed=%v", pid, regs.Orig_rax, allowed)
				}
				if allowed {
					if err := syscall.PtraceSyscall(pid, 0); err != nil {
						return Result{}, &SyscallError{Op: "ptrace(syscall)", Err: err}
					}
				} else {
					// Equivalent to ptrace(PTRACE_KILL): terminate the
					// traced child immediately.
					if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
						return Result{}, &SyscallError{Op: "ptrace(kill)", Err: err}
					}
				}

			default:
				return Result{}, &SyscallError{Op: "wait4", Err: fmt.Errorf("unexpected stop signal %v", sig)}
			}

		default:
			return Result{}, &SyscallError{Op: "wait4", Err: fmt.Errorf("unexpected wait status %v", ws)}
		}
	}
}

// ChildMain is invoked by main() when argv[1] == reExecSentinel. It runs
// the ordered child prelude (§4.5.1) and, on success, never returns: it
// execs into the user's program. On any pre-exec failure it reports the
// failure over the inherited fd-3 pipe and exits 1.
func ChildMain(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "catbox: missing child config path")
		os.Exit(1)
	}
	// fd 3 arrived via ExtraFiles without CLOEXEC (os/exec must clear it to
	// survive the exec into this re-exec'd shim); reinstate CLOEXEC now so
	// it does not also survive the final exec into the user's program.
	unix.CloseOnExec(3)
	pipeW := os.NewFile(3, "catbox-errpipe-w")

	fail := func(format string, a ...any) {
		writePipeMessage(pipeW, fmt.Sprintf(format, a...))
		os.Exit(1)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fail("read child config: %v", err)
	}
	var cfg childConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		fail("decode child config: %v", err)
	}

	// 1. Die with the parent if orphaned.
	if _, _, errno := syscall.RawSyscall(syscall.SYS_PRCTL, unix.PR_SET_PDEATHSIG, uintptr(syscall.SIGTERM), 0); errno != 0 {
		log.Printf("catbox: prctl(PR_SET_PDEATHSIG): %v", errno)
	}

	// 2. The write end of the pipe was acquired above (fd 3).

	// 3. Redirect standard streams.
	redirectStdio(cfg.Stdin, cfg.Stdout, cfg.Stderr)

	// 4. Jail, if configured. Best-effort; never fatal.
	if cfg.ChrootRoot != "" {
		buildJail(cfg.ChrootRoot, cfg.Cwd, cfg.Mounts)
	}

	// 5. Wall-clock alarm backstop.
	ceilSec := uint((cfg.TimeLimitMs+999)/1000) + 1
	if _, err := unix.Alarm(ceilSec); err != nil {
		log.Printf("catbox: alarm: %v", err)
	}

	// 6. setrlimit: CPU, AS, STACK, FSIZE.
	if err := applyRlimits(cfg, ceilSec); err != nil {
		fail("setrlimit: %v", err)
	}

	// 7. Drop privileges: gid first, then uid.
	if err := syscall.Setgid(int(cfg.GID)); err != nil {
		fail("setgid: %v", err)
	}
	if err := syscall.Setuid(int(cfg.UID)); err != nil {
		fail("setuid: %v", err)
	}

	// 8. Opt into tracing.
	if cfg.Trace {
		if err := syscall.PtraceTraceme(); err != nil {
			fail("ptrace(traceme): %v", err)
		}
	}

	// 9./10. execvpe-equivalent. On failure, report over the pipe.
	program, err := resolveExecutable(cfg.Program, cfg.Env)
	if err != nil {
		fail("Execvpe fails: %s (%v)", cfg.Program, err)
	}
	argv := append([]string{cfg.Program}, cfg.Arguments...)
	envp := buildEnvp(cfg.Env)
	if err := syscall.Exec(program, argv, envp); err != nil {
		fail("Execvpe fails: %s (%v)", cfg.Program, err)
	}
}

func redirectStdio(stdin, stdout, stderr string) {
	if stdin != "" {
		if f, err := os.Open(stdin); err != nil {
			log.Printf("catbox: reopen stdin %s: %v", stdin, err)
		} else {
			unix.Dup2(int(f.Fd()), 0)
			f.Close()
		}
	}
	if stdout != "" {
		if f, err := os.OpenFile(stdout, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644); err != nil {
			log.Printf("catbox: reopen stdout %s: %v", stdout, err)
		} else {
			unix.Dup2(int(f.Fd()), 1)
			f.Close()
		}
	}
	if stderr != "" {
		if f, err := os.OpenFile(stderr, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644); err != nil {
			log.Printf("catbox: reopen stderr %s: %v", stderr, err)
		} else {
			unix.Dup2(int(f.Fd()), 2)
			f.Close()
		}
	}
}

func applyRlimits(cfg childConfig, ceilSec uint) error {
	cpu := uint64(ceilSec)
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu}); err != nil {
		return fmt.Errorf("RLIMIT_CPU: %w", err)
	}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}); err != nil {
		return fmt.Errorf("RLIMIT_AS: %w", err)
	}
	stack := cfg.StackSizeBytes
	if stack == StackUnbounded {
		stack = unix.RLIM_INFINITY
	}
	if err := unix.Setrlimit(unix.RLIMIT_STACK, &unix.Rlimit{Cur: stack, Max: stack}); err != nil {
		return fmt.Errorf("RLIMIT_STACK: %w", err)
	}
	fsize := uint64(cfg.MaxOutputBytes)
	if fsize == 0 {
		fsize = defaultMaxOutputBytes
	}
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: fsize, Max: fsize}); err != nil {
		return fmt.Errorf("RLIMIT_FSIZE: %w", err)
	}
	return nil
}

// resolveExecutable mimics execvpe's PATH search: a program containing a
// slash is used verbatim; otherwise each PATH entry is tried in order.
func resolveExecutable(program string, env [][2]string) (string, error) {
	if strings.Contains(program, "/") {
		return program, nil
	}
	path := os.Getenv("PATH")
	for _, kv := range env {
		if kv[0] == "PATH" {
			path = kv[1]
		}
	}
	for _, dir := range strings.Split(path, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, program)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("not found in PATH")
}

// signalName renders a signal as its canonical "SIGXXX" form, matching the
// Reporter schema's convention (§6), rather than syscall.Signal's
// human-readable description ("alarm clock").
func signalName(sig syscall.Signal) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return sig.String()
}

var signalNames = map[syscall.Signal]string{
	syscall.SIGALRM:   "SIGALRM",
	syscall.SIGVTALRM: "SIGVTALRM",
	syscall.SIGXCPU:   "SIGXCPU",
	syscall.SIGBUS:    "SIGBUS",
	syscall.SIGFPE:    "SIGFPE",
	syscall.SIGILL:    "SIGILL",
	syscall.SIGSEGV:   "SIGSEGV",
	syscall.SIGSYS:    "SIGSYS",
	syscall.SIGXFSZ:   "SIGXFSZ",
	syscall.SIGABRT:   "SIGABRT",
	syscall.SIGKILL:   "SIGKILL",
	syscall.SIGTERM:   "SIGTERM",
}

func buildEnvp(env [][2]string) []string {
	out := make([]string, 0, len(env))
	hasPath := false
	for _, kv := range env {
		out = append(out, kv[0]+"="+kv[1])
		if kv[0] == "PATH" {
			hasPath = true
		}
	}
	if !hasPath {
		out = append(out, "PATH="+os.Getenv("PATH"))
	}
	return out
}
