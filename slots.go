package detour

import (
	"unsafe"

	"github.com/pkg/errors"
)

// slotPool hands out fixed-size trampoline slots from one block of code
// memory. Slots are taken in order and only returned by rewinding the
// cursor, so a slot handed out after a rewind has the same address it had
// before.
type slotPool struct {
	buf      []byte
	base     uintptr
	slotSize int
	capacity int

	// next is the index of the next free slot, in [0, capacity].
	next int

	// code, when set, protects buf as executable between writes.
	code *codeArena
}

type slot struct {
	index int
	addr  uintptr
	buf   []byte
}

func newSlotPool(buf []byte, slotSize int, code *codeArena) *slotPool {
	return &slotPool{
		buf:      buf,
		base:     uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		slotSize: slotSize,
		capacity: len(buf) / slotSize,
		code:     code,
	}
}

func (p *slotPool) allocate() (slot, error) {
	if p.next >= p.capacity {
		return slot{}, errors.Wrapf(ErrSlotExhausted, "all %d slots in use", p.capacity)
	}

	i := p.next
	p.next++

	off := i * p.slotSize
	return slot{
		index: i,
		addr:  p.base + uintptr(off),
		buf:   p.buf[off : off+p.slotSize : off+p.slotSize],
	}, nil
}

// rewind moves the cursor back count slots. The cursor must stay in
// [0, capacity); otherwise it is left unchanged.
func (p *slotPool) rewind(count int) error {
	n := p.next - count
	if count < 0 || n < 0 || n >= p.capacity {
		return errors.Wrapf(ErrRewindOutOfRange, "rewind %d with %d of %d slots in use", count, p.next, p.capacity)
	}
	p.next = n
	return nil
}

// write fills s with code, padding the rest with INT3.
func (p *slotPool) write(s slot, code []byte) error {
	if p.code != nil {
		if err := p.code.beginMutate(); err != nil {
			return err
		}
		defer p.code.endMutate()
	}

	n := copy(s.buf, code)
	for i := n; i < len(s.buf); i++ {
		s.buf[i] = opcodeINT3
	}
	return nil
}

// contains reports whether addr is inside the pool.
func (p *slotPool) contains(addr uintptr) bool {
	return addr >= p.base && addr < p.base+uintptr(p.capacity*p.slotSize)
}
