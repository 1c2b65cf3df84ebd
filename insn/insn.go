// Package insn decodes x86 and x86-64 instructions far enough to move them:
// their length, and whether and how they depend on the address they execute
// from.
package insn

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/pboyd/detour/memory"
)

// Processor modes accepted by Decode.
const (
	Mode32 = 32
	Mode64 = 64
)

// ErrDecode is returned for bytes that are not a complete, recognized
// instruction.
var ErrDecode = errors.New("unable to decode instruction")

// Kind classifies an instruction by what relocating it requires.
type Kind int

const (
	// Plain instructions can be copied anywhere unchanged.
	Plain Kind = iota

	// RelCall is CALL rel32.
	RelCall

	// RelJump is JMP rel8 or JMP rel32.
	RelJump

	// CondJump is Jcc rel8 or Jcc rel32.
	CondJump

	// LoopJump is LOOP, LOOPE, LOOPNE or JCXZ and friends. They only have
	// a rel8 form.
	LoopJump

	// RIPRelative has a memory operand addressed from RIP.
	RIPRelative

	// Return is RET or far RET.
	Return

	// IndirectJump is a jump through a register or memory. It may also
	// be RIP-relative.
	IndirectJump

	// RelOther is any other instruction with a relative branch operand
	// (XBEGIN, for example).
	RelOther
)

var kindNames = [...]string{
	Plain:        "plain",
	RelCall:      "call rel",
	RelJump:      "jmp rel",
	CondJump:     "jcc rel",
	LoopJump:     "loop rel",
	RIPRelative:  "rip relative",
	Return:       "ret",
	IndirectJump: "jmp indirect",
	RelOther:     "other rel",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Instruction is one decoded instruction at a known address.
type Instruction struct {
	Addr uintptr
	Len  int
	Kind Kind
	Inst x86asm.Inst

	// RelOff and RelSize locate the PC-relative field inside the
	// instruction's encoding. RelSize is zero when there is none.
	RelOff  int
	RelSize int

	// Target is the absolute address the PC-relative field refers to.
	Target uintptr

	// Cond is the condition code of a CondJump, the low nibble of its
	// opcode.
	Cond byte

	// name overrides Inst for instructions x86asm doesn't know.
	name string
}

// End returns the address of the next instruction.
func (in Instruction) End() uintptr { return in.Addr + uintptr(in.Len) }

// PositionDependent reports whether the instruction must be rewritten when it
// is moved.
func (in Instruction) PositionDependent() bool {
	switch in.Kind {
	case RelCall, RelJump, CondJump, LoopJump, RIPRelative, RelOther:
		return true
	case IndirectJump:
		return in.RelSize > 0
	}
	return false
}

// EndsFlow reports whether execution never falls through to the next
// instruction.
func (in Instruction) EndsFlow() bool {
	switch in.Kind {
	case Return, RelJump, IndirectJump:
		return true
	}
	return false
}

func (in Instruction) String() string {
	if in.name != "" {
		return in.name
	}
	return in.Inst.String()
}

// endbr recognizes ENDBR64 and ENDBR32 (F3 0F 1E FA/FB), which open most
// functions built with CET enabled. x86asm has no CET instructions.
func endbr(src []byte) (string, bool) {
	if len(src) < 4 || src[0] != 0xf3 || src[1] != 0x0f || src[2] != 0x1e {
		return "", false
	}
	switch src[3] {
	case 0xfa:
		return "ENDBR64", true
	case 0xfb:
		return "ENDBR32", true
	}
	return "", false
}

// Decode decodes the instruction at addr.
func Decode(v memory.View, addr uintptr, mode int) (Instruction, error) {
	if mode != Mode32 && mode != Mode64 {
		return Instruction{}, errors.Wrapf(ErrDecode, "mode %d", mode)
	}

	src, err := v.Tail(addr)
	if err != nil {
		return Instruction{}, errors.Wrapf(ErrDecode, "%v", err)
	}
	if len(src) == 0 {
		return Instruction{}, errors.Wrapf(ErrDecode, "no bytes at %#x", addr)
	}

	if name, ok := endbr(src); ok {
		return Instruction{
			Addr: addr,
			Len:  4,
			Kind: Plain,
			Inst: x86asm.Inst{Op: x86asm.NOP, Len: 4},
			name: name,
		}, nil
	}

	inst, err := x86asm.Decode(src, mode)
	if err != nil {
		return Instruction{}, errors.Wrapf(ErrDecode, "at %#x: %v", addr, err)
	}
	// A lone prefix or a truncated encoding decodes without error but
	// without an opcode.
	if inst.Op == 0 || inst.Len == 0 {
		return Instruction{}, errors.Wrapf(ErrDecode, "at %#x: % x", addr, src[:min(len(src), 15)])
	}

	in := Instruction{
		Addr: addr,
		Len:  inst.Len,
		Inst: inst,
	}
	classify(&in)

	return in, nil
}

// Length returns the length of the instruction at addr.
func Length(v memory.View, addr uintptr, mode int) (int, error) {
	in, err := Decode(v, addr, mode)
	if err != nil {
		return 0, err
	}
	return in.Len, nil
}

// Walk decodes whole instructions from addr until they cover at least n
// bytes.
func Walk(v memory.View, addr uintptr, n int, mode int) ([]Instruction, error) {
	var out []Instruction
	for pc := addr; pc < addr+uintptr(n); {
		in, err := Decode(v, pc, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		pc = in.End()
	}
	return out, nil
}

func classify(in *Instruction) {
	inst := &in.Inst

	var rel, hasRel = x86asm.Rel(0), false
	var mem, hasMem = x86asm.Mem{}, false
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			rel, hasRel = a, true
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				mem, hasMem = a, true
			}
		}
	}

	if inst.PCRel > 0 {
		in.RelOff = inst.PCRelOff
		in.RelSize = inst.PCRel
	}

	switch {
	case hasRel:
		in.Target = in.End() + uintptr(int64(rel))
	case hasMem:
		// x86asm doesn't sign-extend disp32.
		in.Target = in.End() + uintptr(int64(int32(mem.Disp)))
	}

	switch inst.Op {
	case x86asm.RET, x86asm.LRET:
		in.Kind = Return
		return
	case x86asm.CALL:
		if hasRel {
			in.Kind = RelCall
			return
		}
	case x86asm.JMP:
		if hasRel {
			in.Kind = RelJump
		} else {
			in.Kind = IndirectJump
		}
		return
	case x86asm.LJMP:
		in.Kind = IndirectJump
		return
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS:
		in.Kind = CondJump
		in.Cond = condition(inst)
		return
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		in.Kind = LoopJump
		return
	}

	switch {
	case hasRel:
		in.Kind = RelOther
	case hasMem:
		in.Kind = RIPRelative
	default:
		in.Kind = Plain
	}
}

// condition extracts the condition nibble from a 7x or 0F 8x opcode.
func condition(inst *x86asm.Inst) byte {
	first := byte(inst.Opcode >> 24)
	if first == 0x0f {
		return byte(inst.Opcode>>16) & 0x0f
	}
	return first & 0x0f
}

// Disassemble lists every instruction in v, one per line.
func Disassemble(v memory.View, mode int) (string, error) {
	var buf bytes.Buffer

	for pc := v.Base(); pc < v.End(); {
		in, err := Decode(v, pc, mode)
		if err != nil {
			return buf.String(), err
		}
		raw, _ := v.Bytes(pc, in.Len)
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", pc, hex.EncodeToString(raw), in)

		pc = in.End()
	}

	return buf.String(), nil
}
