package sandbox

import "golang.org/x/sys/unix"

// networkSyscalls lists the syscall numbers the Network preset forbids:
// every call that creates, names, or configures a network endpoint.
func networkSyscalls() []uint64 {
	return []uint64{
		unix.SYS_SOCKET,
		unix.SYS_SOCKETPAIR,
		unix.SYS_BIND,
		unix.SYS_LISTEN,
		unix.SYS_ACCEPT,
		unix.SYS_ACCEPT4,
		unix.SYS_CONNECT,
		unix.SYS_SHUTDOWN,
		unix.SYS_GETSOCKOPT,
		unix.SYS_SETSOCKOPT,
		unix.SYS_GETSOCKNAME,
		unix.SYS_GETPEERNAME,
	}
}

// execSyscalls lists the syscalls the Process preset allows exactly once,
// so the child prelude's own exec into the user's program still succeeds.
func execSyscalls() []uint64 {
	return []uint64{
		unix.SYS_EXECVE,
		unix.SYS_EXECVEAT,
	}
}

// forkSyscalls lists the process-creation syscalls the Process preset
// forbids outright.
func forkSyscalls() []uint64 {
	return []uint64{
		unix.SYS_FORK,
		unix.SYS_VFORK,
		unix.SYS_CLONE,
		unix.SYS_CLONE3,
	}
}
