//go:build unix

package detour

import "golang.org/x/sys/unix"

// Protection of the trampoline arena.
const (
	mprotectRX  = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)
