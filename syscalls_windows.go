//go:build windows

package detour

import "golang.org/x/sys/windows"

// Protection of the trampoline arena.
const (
	mprotectRX  = windows.PAGE_EXECUTE_READ
	mprotectRWX = windows.PAGE_EXECUTE_READWRITE
)
