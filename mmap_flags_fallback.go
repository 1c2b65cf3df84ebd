//go:build !((linux || freebsd) && amd64)

package detour

// Darwin, NetBSD, OpenBSD and Windows don't have an equivalent to MAP_32BIT,
// and 32-bit processes don't need one. We'll have to trust the OS to place
// the pool within reach of the code being hooked; when it doesn't, hooking a
// prologue with RIP-relative operands fails with ErrRelocationUnsupported.
//
// https://developer.apple.com/library/archive/documentation/System/Conceptual/ManPages_iPhoneOS/man2/mmap.2.html
// https://man.openbsd.org/mmap.2
// https://learn.microsoft.com/en-us/windows/win32/api/memoryapi/nf-memoryapi-virtualalloc
const poolMapFlags = 0
