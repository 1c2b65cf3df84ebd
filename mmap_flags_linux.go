//go:build linux && amd64

package detour

import "golang.org/x/sys/unix"

// MAP_32BIT keeps the pool in the low 2GB, within rel32 reach of a
// non-PIE executable.
//
// https://man7.org/linux/man-pages/man2/mmap.2.html
const poolMapFlags = unix.MAP_32BIT
