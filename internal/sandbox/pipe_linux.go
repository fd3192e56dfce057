//go:build linux

package sandbox

import (
	"bytes"
	"os"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

const pipeBufSize = 128

// newErrPipe creates the one-shot, self-closing byte channel from the
// re-exec'd child to the parent, used to ferry a pre-exec failure message
// (§4.1). CLOEXEC and NONBLOCK are set atomically so the write end never
// leaks into the user's program and the parent's final read never blocks.
func newErrPipe() (r, w *os.File, err error) {
	fds := make([]int, 2)
	if perr := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); perr != nil {
		return nil, nil, &SyscallError{Op: "pipe2", Err: perr}
	}
	return os.NewFile(uintptr(fds[0]), "catbox-errpipe-r"),
		os.NewFile(uintptr(fds[1]), "catbox-errpipe-w"),
		nil
}

// writePipeMessage appends a NUL sentinel and writes text. Called exactly
// once, from the child prelude, immediately before _exit.
func writePipeMessage(w *os.File, text string) {
	_, _ = w.Write([]byte(text + "\x00"))
}

// readPipeMessage performs the single non-blocking read the parent does
// after the child has exited. A would-block or empty read yields "", not
// an error — the child simply never wrote anything.
func readPipeMessage(r *os.File) string {
	buf := make([]byte, pipeBufSize)
	n, err := r.Read(buf)
	if err != nil || n == 0 {
		return ""
	}
	msg := bytes.TrimRight(buf[:n], "\x00")
	if !utf8.Valid(msg) {
		return ""
	}
	return string(msg)
}
