//go:build linux && amd64 && integration

package sandbox

import (
	"errors"
	"os"
	"testing"
	"time"
)

// These tests spawn real supervised children and require CAP_SYS_ADMIN (for
// ptrace/mount) or root, matching this package's existing integration-tier
// tests. Run with `go test -tags integration ./...` as root or in a
// privileged container.

func TestIntegrationExitCodePropagates(t *testing.T) {
	opt, err := NewOption("/bin/true", nil).NoTrace().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := Run(opt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status == nil || *res.Status != 0 {
		t.Errorf("status = %v, want 0", res.Status)
	}
}

func TestIntegrationTimeLimitExceeded(t *testing.T) {
	opt, err := NewOption("/bin/sh", []string{"-c", "while :; do :; done"}).
		TimeLimit(200 * time.Millisecond).
		NoTrace().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := Run(opt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != nil {
		t.Fatalf("expected the busy loop to be killed, got status %v", *res.Status)
	}
	if res.Signal == nil {
		t.Fatal("expected a terminating signal")
	}
	switch *res.Signal {
	case "SIGALRM", "SIGXCPU", "SIGKILL":
	default:
		t.Errorf("signal = %q, want one of SIGALRM/SIGXCPU/SIGKILL", *res.Signal)
	}
}

func TestIntegrationForbiddenForkIsKilled(t *testing.T) {
	opt, err := NewOption("/bin/sh", []string{"-c", "( :& ) ; wait"}).
		Filter(DefaultSyscallFilter()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := Run(opt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signal == nil || *res.Signal != "SIGKILL" {
		t.Errorf("signal = %v, want SIGKILL", res.Signal)
	}
}

func TestIntegrationExecFailureReportsOverPipe(t *testing.T) {
	opt, err := NewOption("/nonexistent/program", nil).NoTrace().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = Run(opt)
	if err == nil {
		t.Fatal("expected an exec error")
	}
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExecError, got %T: %v", err, err)
	}
}

func TestIntegrationEnvScrubbing(t *testing.T) {
	os.Setenv("test", "value")
	defer os.Unsetenv("test")

	out := tempFile(t)
	opt, err := NewOption("/bin/sh", []string{"-c", `echo "${test:-null}"`}).
		Stdout(out).
		NoTrace().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := Run(opt); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "null\n" {
		t.Errorf("stdout = %q, want %q", got, "null\n")
	}
}

func tempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "catbox-integration-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	name := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(name) })
	return name
}
