package memory

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/pkg/errors"
)

// Prot is a set of page protection flags.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

const (
	ProtRX  = ProtRead | ProtExec
	ProtRW  = ProtRead | ProtWrite
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

func (p Prot) String() string {
	s := []byte("---")
	if p&ProtRead != 0 {
		s[0] = 'r'
	}
	if p&ProtWrite != 0 {
		s[1] = 'w'
	}
	if p&ProtExec != 0 {
		s[2] = 'x'
	}
	return string(s)
}

// ErrProtect matches every ProtectError.
var ErrProtect = errors.New("unable to change page protection")

// ProtectError is returned when the OS refuses a protection change. It
// unwraps to the OS error.
type ProtectError struct {
	Addr uintptr
	Size int
	Prot Prot
	Err  error
}

func (e *ProtectError) Error() string {
	return fmt.Sprintf("protect %#x+%d %s: %v", e.Addr, e.Size, e.Prot, e.Err)
}

func (e *ProtectError) Unwrap() error { return e.Err }

func (e *ProtectError) Is(target error) bool { return target == ErrProtect }

// PageSpan returns the page-aligned range that covers size bytes at addr.
func PageSpan(addr uintptr, size, pageSize int) (uintptr, int) {
	ps := uintptr(pageSize)

	// Round address down to page boundary.
	// Example: addr=4196 with pageSize=4096 becomes 4096.
	start := addr &^ (ps - 1)

	// Round up to cover complete pages. A patch that straddles a page
	// boundary covers both pages.
	total := int(addr-start) + size
	return start, (total + pageSize - 1) / pageSize * pageSize
}

// protectPages is swapped out by tests.
var protectPages = protect

// Protect changes the protection of every page touched by size bytes at addr.
func Protect(addr uintptr, size int, prot Prot) error {
	start, length := PageSpan(addr, size, os.Getpagesize())
	if err := protectPages(start, length, prot); err != nil {
		return &ProtectError{Addr: start, Size: length, Prot: prot, Err: err}
	}
	return nil
}

// Span is live memory that is normally not writable: code, or read-only
// tables. It is the only type in this module that writes through raw
// addresses. Every write makes the covering pages writable, copies, and sets
// the pages to the restore protection.
//
// Writes are not atomic with respect to other threads executing the span.
type Span struct {
	addr    uintptr
	size    int
	restore Prot
}

// NewSpan returns a span of size bytes at addr. After each write the pages are
// set to restore.
func NewSpan(addr uintptr, size int, restore Prot) Span {
	return Span{addr: addr, size: size, restore: restore}
}

// Addr returns the first address of the span.
func (s Span) Addr() uintptr { return s.addr }

// Len returns the span's length.
func (s Span) Len() int { return s.size }

// View returns a read-only view of the span's current contents.
func (s Span) View() View { return Live(s.addr, s.size) }

// Write copies p into the span at offset off. If it fails the span holds
// what it held before.
func (s Span) Write(off int, p []byte) error {
	if off < 0 || off+len(p) > s.size {
		return errors.Wrapf(ErrOutOfBounds, "write of %d bytes at offset %d, span is %d bytes", len(p), off, s.size)
	}
	if len(p) == 0 {
		return nil
	}

	dst := s.addr + uintptr(off)
	if err := Protect(dst, len(p), ProtRWX); err != nil {
		return err
	}

	mem := unsafe.Slice((*byte)(unsafe.Pointer(dst)), len(p))
	prev := bytes.Clone(mem)
	copy(mem, p)

	if s.restore == ProtRWX {
		return nil
	}
	if err := Protect(dst, len(p), s.restore); err != nil {
		// The pages are still writable. Put the old bytes back so a
		// failed write changes nothing.
		copy(mem, prev)
		return err
	}
	return nil
}
