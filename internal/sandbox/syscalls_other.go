//go:build !(linux && amd64)

package sandbox

// On unsupported platforms the filter type still compiles (so CLI tooling
// builds everywhere) but the preset lists are empty; Run() on these
// platforms returns PlatformError before any filter is ever applied.
func networkSyscalls() []uint64 { return nil }
func execSyscalls() []uint64    { return nil }
func forkSyscalls() []uint64    { return nil }
