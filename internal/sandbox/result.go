package sandbox

import (
	"encoding/json"
	"fmt"
)

// Usage holds the four resource counters collected after a child
// terminates: elapsed/user/system CPU time in milliseconds, and peak
// memory in KiB.
type Usage struct {
	TimeMs     int64
	TimeUserMs int64
	TimeSysMs  int64
	MemoryKB   int64
}

// Result is the immutable outcome of one supervised execution. Exactly one
// of Status/Signal is populated for any run that completed a wait; a
// forwarded fatal signal takes priority over a subsequent exit status for
// verdict purposes (§4.6).
type Result struct {
	Status *int
	Signal *string // symbolic name, e.g. "SIGXCPU"
	Usage  Usage
}

// Verdict returns whichever of Signal/Status actually describes why the
// process ended, Signal taking priority when both are set.
func (r Result) Verdict() (signal string, status int, hasSignal bool) {
	if r.Signal != nil {
		return *r.Signal, 0, true
	}
	if r.Status != nil {
		return "", *r.Status, false
	}
	return "", 0, false
}

// report is the wire shape of the Reporter JSON schema (§6).
type report struct {
	OK       bool    `json:"ok"`
	Status   *int    `json:"status"`
	Signal   *string `json:"signal"`
	Time     int64   `json:"time"`
	TimeUser int64   `json:"time_user"`
	TimeSys  int64   `json:"time_sys"`
	Memory   int64   `json:"memory"`
}

type errorReport struct {
	OK      bool   `json:"ok"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ReportJSON renders a successful Result as the external Reporter schema.
func ReportJSON(r Result) ([]byte, error) {
	return json.Marshal(report{
		OK:       true,
		Status:   r.Status,
		Signal:   r.Signal,
		Time:     r.Usage.TimeMs,
		TimeUser: r.Usage.TimeUserMs,
		TimeSys:  r.Usage.TimeSysMs,
		Memory:   r.Usage.MemoryKB,
	})
}

// ReportErrorJSON renders an engine error as the external Reporter error
// schema, classifying it by concrete error type.
func ReportErrorJSON(err error) ([]byte, error) {
	return json.Marshal(errorReport{
		OK:      false,
		Type:    errorClass(err),
		Message: err.Error(),
	})
}

func errorClass(err error) string {
	switch err.(type) {
	case *ForkError:
		return "fork"
	case *CgroupError:
		return "cgroup"
	case *ExecError:
		return "exec"
	case *SyscallError:
		return "syscall"
	case *FilesystemError:
		return "filesystem"
	case *CLIError:
		return "cli"
	case *PlatformError:
		return "platform"
	default:
		return "internal"
	}
}

// ReportText renders a one-line human-readable summary of a Result.
func ReportText(r Result) string {
	if r.Signal != nil {
		return fmt.Sprintf("signal=%s time=%dms memory=%dKiB", *r.Signal, r.Usage.TimeMs, r.Usage.MemoryKB)
	}
	status := -1
	if r.Status != nil {
		status = *r.Status
	}
	return fmt.Sprintf("status=%d time=%dms memory=%dKiB", status, r.Usage.TimeMs, r.Usage.MemoryKB)
}
