package detour

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pboyd/detour/insn"
	"github.com/pboyd/detour/memory"
)

// prologue is the run of whole instructions that a patch overwrites.
type prologue struct {
	insts []insn.Instruction

	// consumed is the number of bytes at the target that the patch may
	// overwrite. It's at least the patch size.
	consumed int

	// leaves is true when the last instruction never falls through, so
	// the trampoline doesn't need a jump back.
	leaves bool
}

// readPrologue decodes whole instructions at target until they cover at least
// minBytes. When control leaves the function first, the bytes up to minBytes
// must be padding between functions.
func readPrologue(code memory.View, target uintptr, minBytes, mode int) (prologue, error) {
	var p prologue

	for p.consumed < minBytes {
		in, err := insn.Decode(code, target+uintptr(p.consumed), mode)
		if err != nil {
			return prologue{}, err
		}
		p.insts = append(p.insts, in)
		p.consumed += in.Len

		if !in.EndsFlow() {
			continue
		}

		p.leaves = true
		if p.consumed >= minBytes {
			break
		}

		pad, err := code.Bytes(target+uintptr(p.consumed), minBytes-p.consumed)
		if err != nil {
			return prologue{}, errors.Wrapf(ErrTooShort, "%d byte function at %#x", p.consumed, target)
		}
		for i, b := range pad {
			if !isPadding(b) {
				return prologue{}, errors.Wrapf(ErrTooShort, "%d byte function at %#x, %#02x follows at %#x", p.consumed, target, b, target+uintptr(p.consumed+i))
			}
		}
		p.consumed = minBytes
	}

	return p, nil
}

func isPadding(b byte) bool {
	return b == opcodeINT3 || b == opcodeNOP || b == 0x00
}

// buildTrampoline relocates the prologue at target into a trampoline that
// will execute from slot. It returns the trampoline's code and the number of
// bytes a patch at target may overwrite.
//
// Every position-dependent instruction is rewritten to reach the same absolute
// address from the slot. Nothing is written to memory.
func buildTrampoline(code memory.View, target, slot uintptr, minBytes, mode, slotSize int) ([]byte, int, error) {
	p, err := readPrologue(code, target, minBytes, mode)
	if err != nil {
		return nil, 0, err
	}

	overwritten := func(addr uintptr) bool {
		return addr >= target && addr < target+uintptr(p.consumed)
	}

	// Offsets of the relocated copy of each instruction, by original address.
	relocated := make(map[uintptr]int, len(p.insts))

	out := make([]byte, 0, slotSize)
	for _, in := range p.insts {
		relocated[in.Addr] = len(out)
		pc := slot + uintptr(len(out))

		src, err := code.Bytes(in.Addr, in.Len)
		if err != nil {
			return nil, 0, err
		}

		var ok bool
		switch in.Kind {
		case insn.Plain, insn.Return:
			out, ok = append(out, src...), true

		case insn.IndirectJump:
			if in.RelSize == 0 {
				out, ok = append(out, src...), true
				break
			}
			out, ok = appendRIPRelative(out, in, src, pc, mode)

		case insn.RIPRelative:
			out, ok = appendRIPRelative(out, in, src, pc, mode)

		case insn.RelCall:
			if mode == insn.Mode64 {
				out, ok = appendAbsCall(out, in.Target), true
			} else {
				out, ok = appendRel32(out, pc, in.Target, mode, opcodeCALLrel)
			}

		case insn.RelJump, insn.CondJump:
			if !overwritten(in.Target) {
				out, ok = appendExternalJump(out, in, pc, mode)
				break
			}

			// Only jumps back to an instruction that has already been
			// copied can follow it into the trampoline.
			off, copied := relocated[in.Target]
			if in.Target > in.Addr || !copied {
				return nil, 0, errors.Wrapf(ErrRelocationUnsupported, "%s at %#x jumps into the patched bytes", in, in.Addr)
			}
			if in.Kind == insn.RelJump {
				out, ok = appendRel32(out, pc, slot+uintptr(off), mode, opcodeJMPrel)
			} else {
				out, ok = appendRel32(out, pc, slot+uintptr(off), mode, opcodeTwoByte, opcodeJccNear|in.Cond)
			}

		default:
			return nil, 0, errors.Wrapf(ErrRelocationUnsupported, "%s (%s) at %#x", in, in.Kind, in.Addr)
		}

		if !ok {
			return nil, 0, errors.Wrapf(ErrRelocationUnsupported, "%s at %#x can't reach %#x from %#x", in, in.Addr, in.Target, pc)
		}
	}

	if !p.leaves {
		back := target + uintptr(p.consumed)
		if mode == insn.Mode64 {
			out = appendAbsJump(out, back)
		} else {
			out, _ = appendRel32(out, slot+uintptr(len(out)), back, mode, opcodeJMPrel)
		}
	}

	if len(out) > slotSize {
		return nil, 0, errors.Wrapf(ErrTrampolineOverflow, "%d bytes for a %d byte slot", len(out), slotSize)
	}

	return out, p.consumed, nil
}

// appendRIPRelative copies an instruction with a RIP-relative operand,
// adjusting the displacement for its new address.
func appendRIPRelative(out []byte, in insn.Instruction, src []byte, pc uintptr, mode int) ([]byte, bool) {
	if in.RelSize != 4 {
		return out, false
	}
	disp, ok := rel32(pc+uintptr(in.Len), in.Target, mode)
	if !ok {
		return out, false
	}

	start := len(out)
	out = append(out, src...)
	binary.LittleEndian.PutUint32(out[start+in.RelOff:], uint32(disp))
	return out, true
}

// appendExternalJump rewrites a jump that leaves the prologue.
func appendExternalJump(out []byte, in insn.Instruction, pc uintptr, mode int) ([]byte, bool) {
	if mode == insn.Mode64 {
		if in.Kind == insn.CondJump {
			return appendAbsCondJump(out, in.Cond, in.Target), true
		}
		return appendAbsJump(out, in.Target), true
	}

	if in.Kind == insn.CondJump {
		return appendRel32(out, pc, in.Target, mode, opcodeTwoByte, opcodeJccNear|in.Cond)
	}
	return appendRel32(out, pc, in.Target, mode, opcodeJMPrel)
}
