// Package sandbox implements the supervised execution engine: a
// process-isolation sandbox for running one untrusted program under
// strict CPU/wall-time, memory, stack, output-size, and process-count
// limits, confined to a private filesystem view, with dangerous syscalls
// filtered via ptrace.
package sandbox

// ReExecSentinel is the argv[1] value that tells this binary's main() to
// run the privileged child prelude (ChildMain) instead of its normal
// command-line interface. Go's runtime makes it unsafe to fork() and run
// arbitrary Go code only on the child side of the fork, so the prelude
// instead runs in a freshly re-exec'd copy of the same binary.
const ReExecSentinel = reExecSentinel
