//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestWriteReadIntRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value")
	if err := writeInt(path, 123456); err != nil {
		t.Fatalf("writeInt: %v", err)
	}
	got, err := readInt(path)
	if err != nil {
		t.Fatalf("readInt: %v", err)
	}
	if got != 123456 {
		t.Errorf("readInt = %d, want 123456", got)
	}
}

func TestCgroupAccountantCloseNilSafe(t *testing.T) {
	var a *cgroupAccountant
	a.Close() // must not panic
}

func TestNewCgroupAccountantNoHierarchy(t *testing.T) {
	if _, err := os.Stat(cgroupRoot); err == nil {
		t.Skip("cgroup v1 hierarchy present on this host; skipping negative-path test")
	}
	opt := RunOption{Label: "catbox-test", MemoryLimitKB: 1024, MaxProcesses: 1}
	a, err := newCgroupAccountant(opt, 1)
	if err != nil {
		t.Fatalf("non-forced construction with missing hierarchy should not fail: %v", err)
	}
	if len(a.enabled) != 0 {
		t.Errorf("no subsystem should be enabled without a hierarchy: %+v", a.enabled)
	}
}

func TestNewCgroupAccountantForcedFailsWithoutHierarchy(t *testing.T) {
	if _, err := os.Stat(cgroupRoot); err == nil {
		t.Skip("cgroup v1 hierarchy present on this host; skipping negative-path test")
	}
	opt := RunOption{Label: "catbox-test", MemoryLimitKB: 1024, MaxProcesses: 1, Force: true}
	if _, err := newCgroupAccountant(opt, 1); err == nil {
		t.Fatal("forced construction with missing hierarchy should fail")
	}
}

func TestTimevalMs(t *testing.T) {
	tv := syscall.Timeval{Sec: 1, Usec: 500000}
	if got := timevalMs(tv); got != 1500 {
		t.Errorf("timevalMs = %d, want 1500", got)
	}
}
