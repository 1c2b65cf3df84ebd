//go:build windows

package memory

import "golang.org/x/sys/windows"

func protect(start uintptr, length int, prot Prot) error {
	var flags uint32
	switch prot {
	case ProtRead:
		flags = windows.PAGE_READONLY
	case ProtRW:
		flags = windows.PAGE_READWRITE
	case ProtExec:
		flags = windows.PAGE_EXECUTE
	case ProtRX:
		flags = windows.PAGE_EXECUTE_READ
	case ProtRWX, ProtWrite | ProtExec:
		flags = windows.PAGE_EXECUTE_READWRITE
	default:
		flags = windows.PAGE_NOACCESS
	}

	var oldFlags uint32
	return windows.VirtualProtect(start, uintptr(length), flags, &oldFlags)
}
