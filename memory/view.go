// Package memory provides the two ways the rest of the module touches
// process memory: a bounds-checked, read-only View over a (base, length)
// range, and a Span of live memory that can be made writable, patched and
// protected again.
package memory

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned when a read falls outside a View.
var ErrOutOfBounds = errors.New("address outside of view")

// View is a read-only window of bytes that lives at Base in the address space
// being inspected. The bytes may be a copy (tests, offline analysis) or the
// live memory itself (see Live). Every accessor checks bounds, so a scanner
// or decoder working on a View can never read past the end of its region.
type View struct {
	base uintptr
	data []byte
}

// NewView returns a View of data that pretends to live at base.
func NewView(base uintptr, data []byte) View {
	return View{base: base, data: data}
}

// Live returns a View over length bytes of this process's memory starting at
// base. The caller must guarantee the range is mapped and readable.
func Live(base uintptr, length int) View {
	if length <= 0 {
		return View{base: base}
	}
	return View{
		base: base,
		data: unsafe.Slice((*byte)(unsafe.Pointer(base)), length),
	}
}

// Base returns the address of the first byte.
func (v View) Base() uintptr { return v.base }

// End returns the address one past the last byte.
func (v View) End() uintptr { return v.base + uintptr(len(v.data)) }

// Len returns the number of bytes in the view.
func (v View) Len() int { return len(v.data) }

// Contains reports whether addr is inside the view.
func (v View) Contains(addr uintptr) bool {
	return addr >= v.base && addr < v.End()
}

func (v View) offset(addr uintptr, n int) (int, error) {
	if n < 0 || addr < v.base || addr > v.End() || int(addr-v.base) > len(v.data)-n {
		return 0, errors.Wrapf(ErrOutOfBounds, "%d bytes at %#x, view is %#x-%#x", n, addr, v.base, v.End())
	}
	return int(addr - v.base), nil
}

// ByteAt returns the byte at addr.
func (v View) ByteAt(addr uintptr) (byte, error) {
	off, err := v.offset(addr, 1)
	if err != nil {
		return 0, err
	}
	return v.data[off], nil
}

// Bytes returns n bytes starting at addr. The result aliases the view.
func (v View) Bytes(addr uintptr, n int) ([]byte, error) {
	off, err := v.offset(addr, n)
	if err != nil {
		return nil, err
	}
	return v.data[off : off+n : off+n], nil
}

// Tail returns every byte from addr to the end of the view.
func (v View) Tail(addr uintptr) ([]byte, error) {
	off, err := v.offset(addr, 0)
	if err != nil {
		return nil, err
	}
	return v.data[off:], nil
}

// Sub returns the n byte view starting at addr.
func (v View) Sub(addr uintptr, n int) (View, error) {
	b, err := v.Bytes(addr, n)
	if err != nil {
		return View{}, err
	}
	return View{base: addr, data: b}, nil
}

// Int32At reads a little-endian int32 at addr.
func (v View) Int32At(addr uintptr) (int32, error) {
	b, err := v.Bytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// RelAddress resolves a 32-bit relative operand of the instruction at addr.
// dispOffset is the position of the operand inside the instruction and
// instLen the instruction's length, so for "48 8B 05 <disp32>" it is
// RelAddress(addr, 3, 7).
func (v View) RelAddress(addr uintptr, dispOffset, instLen int) (uintptr, error) {
	disp, err := v.Int32At(addr + uintptr(dispOffset))
	if err != nil {
		return 0, err
	}
	return addr + uintptr(instLen) + uintptr(int64(disp)), nil
}
