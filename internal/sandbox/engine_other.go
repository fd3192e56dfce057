//go:build !(linux && amd64)

package sandbox

import "runtime"

const reExecSentinel = "__catbox_child_init__"

// Run reports that supervised execution is unavailable on this
// GOOS/GOARCH. The engine is Linux/amd64-only by design (§1 Non-goals);
// every other platform still compiles so tooling built on top of this
// package (the CLI, tests) works everywhere, but invocation always fails
// with a structured, typed error rather than silently degrading.
func Run(opt RunOption) (Result, error) {
	return Result{}, &PlatformError{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

// ChildMain is unreachable on this platform: the engine never spawns the
// re-exec shim here, so main() never sees the sentinel argument that would
// invoke it. It exists only so the dispatch in cmd/catbox compiles
// uniformly across platforms.
func ChildMain(args []string) {
	panic("catbox: ChildMain invoked on unsupported platform")
}
