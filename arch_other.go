//go:build !amd64 && !386

package detour

// No code can be hooked on this architecture. New returns ErrUnsupportedArch.
const hostMode = 0
