package sandbox

import (
	"encoding/json"
	"testing"
)

func TestResultVerdictSignalWinsOverStatus(t *testing.T) {
	status := 0
	sig := "SIGXCPU"
	r := Result{Status: &status, Signal: &sig}
	signal, _, hasSignal := r.Verdict()
	if !hasSignal || signal != "SIGXCPU" {
		t.Errorf("Verdict() = (%q, hasSignal=%v), want (SIGXCPU, true)", signal, hasSignal)
	}
}

func TestReportJSONRoundTrip(t *testing.T) {
	status := 0
	r := Result{Status: &status, Usage: Usage{TimeMs: 120, TimeUserMs: 100, TimeSysMs: 20, MemoryKB: 4096}}
	raw, err := ReportJSON(r)
	if err != nil {
		t.Fatalf("ReportJSON: %v", err)
	}
	var got report
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.OK || got.Status == nil || *got.Status != 0 || got.Signal != nil {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Time != 120 || got.TimeUser != 100 || got.TimeSys != 20 || got.Memory != 4096 {
		t.Errorf("usage round-trip mismatch: %+v", got)
	}
}

func TestReportErrorJSONClassifiesErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ForkError{Err: errTest}, "fork"},
		{&CgroupError{Err: errTest}, "cgroup"},
		{&ExecError{Message: "x"}, "exec"},
		{&SyscallError{Op: "wait4", Err: errTest}, "syscall"},
		{&CLIError{Input: "x", Err: errTest}, "cli"},
		{&PlatformError{GOOS: "darwin", GOARCH: "arm64"}, "platform"},
	}
	for _, tt := range tests {
		raw, err := ReportErrorJSON(tt.err)
		if err != nil {
			t.Fatalf("ReportErrorJSON: %v", err)
		}
		var got errorReport
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got.OK {
			t.Errorf("error report OK should be false")
		}
		if got.Type != tt.want {
			t.Errorf("Type = %q, want %q", got.Type, tt.want)
		}
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errTest = testErr("boom")
