//go:build linux

package sandbox

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// buildJail runs the child-side jail protocol (§4.2): bind-mount root onto
// itself, remount to normalize flags, bind every configured mount point
// under root, then chroot and chdir. Every failure is logged and
// swallowed — a best-effort jail is not fatal; execution proceeds in
// whatever filesystem view resulted.
func buildJail(root, cwd string, mounts []MountSpec) {
	if err := unix.Mount(root, root, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		log.Printf("catbox: bind root onto itself: %v", err)
		return
	}
	if err := unix.Mount("", root, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_REC, ""); err != nil {
		log.Printf("catbox: remount root: %v", err)
		return
	}

	for _, m := range mounts {
		if !filepath.IsAbs(m.Dst) {
			log.Printf("catbox: mount spec dst %q not absolute, skipping", m.Dst)
			continue
		}
		target := filepath.Join(root, strings.TrimPrefix(m.Dst, "/"))
		if err := os.MkdirAll(target, 0o755); err != nil {
			log.Printf("catbox: mkdir %s: %v", target, err)
			continue
		}
		if err := unix.Mount(m.Src, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			log.Printf("catbox: bind %s -> %s: %v", m.Src, target, err)
			continue
		}
		if !m.Writable {
			flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_REC | unix.MS_RDONLY)
			if err := unix.Mount("", target, "", flags, ""); err != nil {
				log.Printf("catbox: readonly remount %s: %v", target, err)
			}
		}
	}

	if err := unix.Chroot(root); err != nil {
		log.Printf("catbox: chroot %s: %v", root, err)
		return
	}
	if err := os.Chdir(cwd); err != nil {
		if err := os.Chdir("/"); err != nil {
			log.Printf("catbox: chdir fallback to /: %v", err)
		}
	}
}

// teardownJail unmounts every configured mount point, then the root
// itself. Run by the parent after the invocation completes. Failure is
// logged, non-fatal — matches §4.2's teardown contract.
func teardownJail(root string, mounts []MountSpec) {
	if root == "" {
		return
	}
	for _, m := range mounts {
		if !filepath.IsAbs(m.Dst) {
			continue
		}
		target := filepath.Join(root, strings.TrimPrefix(m.Dst, "/"))
		if err := unix.Unmount(target, unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
			log.Printf("catbox: unmount %s: %v", target, err)
		}
	}
	if err := unix.Unmount(root, unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
		log.Printf("catbox: unmount root %s: %v", root, err)
	}
}
