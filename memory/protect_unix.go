//go:build unix

package memory

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func protect(start uintptr, length int, prot Prot) error {
	flags := unix.PROT_NONE
	if prot&ProtRead != 0 {
		flags |= unix.PROT_READ
	}
	if prot&ProtWrite != 0 {
		flags |= unix.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		flags |= unix.PROT_EXEC
	}

	// Page zero is never mapped, and a slice can't start there.
	if start == 0 {
		return unix.ENOMEM
	}

	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), length)

	return unix.Mprotect(region, flags)
}
