package sandbox

import (
	"path/filepath"
	"strings"
)

// MountSpec is a normalized (source, target, writable?) triple describing
// one bind mount to set up inside the jail. Dst is interpreted relative to
// the jail root, never the host root.
type MountSpec struct {
	Src      string
	Dst      string
	Writable bool
}

// defaultMounts returns the standard read-only system directories every
// jail gets unless the caller overrides them.
func defaultMounts() []MountSpec {
	dirs := []string{"/bin", "/sbin", "/usr", "/etc", "/lib", "/lib64"}
	mounts := make([]MountSpec, 0, len(dirs))
	for _, d := range dirs {
		mounts = append(mounts, MountSpec{Src: d, Dst: d, Writable: false})
	}
	return mounts
}

// canonicalizeMount resolves a relative Src against cwd; absolute paths
// pass through verbatim.
func canonicalizeMount(src, cwd string) string {
	if filepath.IsAbs(src) {
		return src
	}
	return filepath.Join(cwd, src)
}

// parseMountString accepts the CLI shorthand for a mount spec:
//
//	src            -> read-only, mounted at the same path
//	src:dst        -> read-only, mounted at dst
//	src:dst:rw     -> writable, mounted at dst
func parseMountString(spec, cwd string) (MountSpec, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 1:
		src := canonicalizeMount(parts[0], cwd)
		return MountSpec{Src: src, Dst: src, Writable: false}, nil
	case 2:
		src := canonicalizeMount(parts[0], cwd)
		return MountSpec{Src: src, Dst: parts[1], Writable: false}, nil
	case 3:
		if parts[2] != "rw" {
			return MountSpec{}, &CLIError{Input: spec, Err: errInvalidMountMode}
		}
		src := canonicalizeMount(parts[0], cwd)
		return MountSpec{Src: src, Dst: parts[1], Writable: true}, nil
	default:
		return MountSpec{}, &CLIError{Input: spec, Err: errInvalidMountSpec}
	}
}

var (
	errInvalidMountMode = mountErr("third field of a mount spec must be \"rw\"")
	errInvalidMountSpec = mountErr("expected src, src:dst, or src:dst:rw")
)

type mountErr string

func (e mountErr) Error() string { return string(e) }
