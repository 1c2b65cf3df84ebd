//go:build freebsd && amd64

package detour

import "golang.org/x/sys/unix"

// MAP_32BIT keeps the pool in the low 2GB, within rel32 reach of a
// non-PIE executable.
//
// https://man.freebsd.org/cgi/man.cgi?mmap(2)
const poolMapFlags = unix.MAP_32BIT
