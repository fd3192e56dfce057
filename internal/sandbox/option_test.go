package sandbox

import (
	"testing"
	"time"
)

func TestNewOptionDefaults(t *testing.T) {
	opt, err := NewOption("/bin/echo", []string{"hi"}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if opt.TimeLimitMs != defaultTimeLimitMs {
		t.Errorf("TimeLimitMs = %d, want %d", opt.TimeLimitMs, defaultTimeLimitMs)
	}
	if opt.MemoryLimitKB != defaultMemoryLimitKB {
		t.Errorf("MemoryLimitKB = %d, want %d", opt.MemoryLimitKB, defaultMemoryLimitKB)
	}
	if opt.StackSizeBytes != StackUnbounded {
		t.Errorf("StackSizeBytes = %d, want StackUnbounded", opt.StackSizeBytes)
	}
	if opt.MaxProcesses != defaultMaxProcesses {
		t.Errorf("MaxProcesses = %d, want %d", opt.MaxProcesses, defaultMaxProcesses)
	}
	if opt.Label != defaultLabel {
		t.Errorf("Label = %q, want %q", opt.Label, defaultLabel)
	}
	if opt.Filter == nil {
		t.Error("default RunOption should have tracing enabled with the default filter")
	}
	if len(opt.Mounts) == 0 {
		t.Error("default RunOption should carry the default mount set")
	}
}

func TestOptionBuilderChaining(t *testing.T) {
	opt, err := NewOption("/bin/ls", nil).
		TimeLimit(2500 * time.Millisecond).
		MemoryLimitKB(65536).
		UID(1000).
		GID(1000).
		Chroot("/tmp/jail").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if opt.TimeLimitMs != 2500 {
		t.Errorf("TimeLimitMs = %d, want 2500", opt.TimeLimitMs)
	}
	if opt.MemoryLimitKB != 65536 {
		t.Errorf("MemoryLimitKB = %d, want 65536", opt.MemoryLimitKB)
	}
	if opt.UID != 1000 || opt.GID != 1000 {
		t.Errorf("UID/GID = %d/%d, want 1000/1000", opt.UID, opt.GID)
	}
	if opt.ChrootRoot != "/tmp/jail" {
		t.Errorf("ChrootRoot = %q, want /tmp/jail", opt.ChrootRoot)
	}
}

func TestOptionBuilderNoTrace(t *testing.T) {
	opt, err := NewOption("/bin/ls", nil).NoTrace().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if opt.Filter != nil {
		t.Error("NoTrace should clear the filter")
	}
}

func TestOptionBuilderMountStringErrorSurfacesFromBuild(t *testing.T) {
	_, err := NewOption("/bin/ls", nil).MountString("a:b:c:d").Build()
	if err == nil {
		t.Fatal("expected Build to surface the malformed mount spec error")
	}
}

func TestOptionBuilderEnvOverridesExisting(t *testing.T) {
	opt, err := NewOption("/bin/ls", nil).Env("PATH", "/custom/bin").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var got string
	for _, kv := range opt.Env {
		if kv[0] == "PATH" {
			got = kv[1]
		}
	}
	if got != "/custom/bin" {
		t.Errorf("PATH = %q, want /custom/bin", got)
	}
}
