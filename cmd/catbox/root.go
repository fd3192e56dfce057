package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/catbox/internal/sandbox"
)

type cliErr string

func (e cliErr) Error() string { return string(e) }

var errMissingEquals = cliErr("expected KEY=VALUE")

var rootCmd = &cobra.Command{
	Use:   "catbox",
	Short: "Supervised execution engine for competitive-programming judges",
}

var runFlags struct {
	timeMs       int64
	memoryKB     int64
	stackBytes   int64
	maxProcesses int
	uid          int64
	gid          int64
	label        string
	chroot       string
	cwd          string
	mounts       []string
	stdin        string
	stdout       string
	stderr       string
	env          []string
	filter       string
	force        bool
	debug        bool
	json         bool
}

var runCmd = &cobra.Command{
	Use:   "run -- program [args...]",
	Short: "Run one program under the engine",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.Int64Var(&runFlags.timeMs, "time", 1000, "CPU time limit in milliseconds")
	f.Int64Var(&runFlags.memoryKB, "memory", 262144, "memory limit in KiB")
	f.Int64Var(&runFlags.stackBytes, "stack", -1, "stack size in bytes (-1 for unbounded)")
	f.IntVar(&runFlags.maxProcesses, "max-processes", 1, "maximum process count")
	f.Int64Var(&runFlags.uid, "uid", -1, "uid to drop to (-1 for nobody)")
	f.Int64Var(&runFlags.gid, "gid", -1, "gid to drop to (-1 for nogroup)")
	f.StringVar(&runFlags.label, "label", "catbox", "cgroup naming prefix")
	f.StringVar(&runFlags.chroot, "chroot", "", "jail root directory")
	f.StringVar(&runFlags.cwd, "cwd", "", "working directory inside the jail")
	f.StringArrayVar(&runFlags.mounts, "mount", nil, "mount spec: src, src:dst, or src:dst:rw (repeatable)")
	f.StringVar(&runFlags.stdin, "stdin", "", "host path redirected onto the child's stdin")
	f.StringVar(&runFlags.stdout, "stdout", "", "host path redirected onto the child's stdout")
	f.StringVar(&runFlags.stderr, "stderr", "", "host path redirected onto the child's stderr")
	f.StringArrayVar(&runFlags.env, "env", nil, "KEY=VALUE environment entry (repeatable)")
	f.StringVar(&runFlags.filter, "filter", "", "syscall filter preset list: none, net, process, all, or off to disable tracing")
	f.BoolVar(&runFlags.force, "force", false, "fail if a cgroup controller is missing")
	f.BoolVar(&runFlags.debug, "debug", false, "log every ptrace stop and filter decision")
	f.BoolVar(&runFlags.json, "json", false, "render the result as the Reporter JSON schema")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	opt, err := buildOption(args)
	if err != nil {
		return emit(nil, err)
	}
	res, err := sandbox.Run(opt)
	return emit(&res, err)
}

func buildOption(args []string) (sandbox.RunOption, error) {
	b := sandbox.NewOption(args[0], args[1:]).
		TimeLimit(time.Duration(runFlags.timeMs) * time.Millisecond).
		MemoryLimitKB(runFlags.memoryKB).
		MaxProcesses(runFlags.maxProcesses).
		Label(runFlags.label).
		Force(runFlags.force).
		Debug(runFlags.debug)

	if runFlags.stackBytes >= 0 {
		b.StackSize(uint64(runFlags.stackBytes))
	}
	if runFlags.uid >= 0 {
		b.UID(uint32(runFlags.uid))
	}
	if runFlags.gid >= 0 {
		b.GID(uint32(runFlags.gid))
	}
	if runFlags.chroot != "" {
		b.Chroot(runFlags.chroot)
	}
	if runFlags.cwd != "" {
		b.Cwd(runFlags.cwd)
	}
	for _, m := range runFlags.mounts {
		b.MountString(m)
	}
	if runFlags.stdin != "" {
		b.Stdin(runFlags.stdin)
	}
	if runFlags.stdout != "" {
		b.Stdout(runFlags.stdout)
	}
	if runFlags.stderr != "" {
		b.Stderr(runFlags.stderr)
	}
	for _, kv := range runFlags.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return sandbox.RunOption{}, &sandbox.CLIError{Input: kv, Err: errMissingEquals}
		}
		b.Env(k, v)
	}
	switch runFlags.filter {
	case "":
		// leave the default (Network+Process) filter in place
	case "off":
		b.NoTrace()
	default:
		b.FilterPreset(runFlags.filter)
	}
	return b.Build()
}

func emit(res *sandbox.Result, err error) error {
	if runFlags.json {
		var out []byte
		var jerr error
		if err != nil {
			out, jerr = sandbox.ReportErrorJSON(err)
		} else {
			out, jerr = sandbox.ReportJSON(*res)
		}
		if jerr != nil {
			return jerr
		}
		fmt.Fprintln(os.Stdout, string(out))
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	fmt.Fprintln(os.Stdout, sandbox.ReportText(*res))
	return nil
}
