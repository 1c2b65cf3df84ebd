package detour

import (
	"encoding/binary"
	"math"

	"github.com/pboyd/detour/insn"
)

const (
	opcodeCALLrel  = 0xe8 // CALL rel32
	opcodeJMPrel   = 0xe9 // JMP rel32
	opcodeJMPshort = 0xeb // JMP rel8
	opcodeJccShort = 0x70 // Jcc rel8, low nibble is the condition
	opcodeJccNear  = 0x80 // second byte of 0F 8x, Jcc rel32
	opcodeTwoByte  = 0x0f
	opcodeGroup5   = 0xff // CALL/JMP r/m
	opcodeINT3     = 0xcc
	opcodeNOP      = 0x90

	modrmCALLrip = 0x15 // FF /2, [rip+disp32]
	modrmJMPrip  = 0x25 // FF /4, [rip+disp32]
)

// Sizes of the generated sequences.
const (
	absJumpSize     = 14 // FF 25 00000000 imm64
	absCallSize     = 16 // FF 15 02000000 EB 08 imm64
	absCondJumpSize = 2 + absJumpSize
	rel32JumpSize   = 5
)

// patchSize is the number of bytes the jump written over a target takes.
func patchSize(mode int) int {
	if mode == insn.Mode64 {
		return absJumpSize
	}
	return rel32JumpSize
}

// rel32 returns the displacement of a 32-bit relative operand that ends at
// next and refers to dest. In 32-bit mode the address space wraps, so every
// destination is reachable.
func rel32(next, dest uintptr, mode int) (int32, bool) {
	if mode == insn.Mode32 {
		return int32(uint32(dest) - uint32(next)), true
	}
	diff := int64(dest) - int64(next)
	if diff < math.MinInt32 || diff > math.MaxInt32 {
		return 0, false
	}
	return int32(diff), true
}

// appendAbsJump appends the x86-64 equivalent of:
//
//	JMP [RIP+0]
//	.quad dest
func appendAbsJump(buf []byte, dest uintptr) []byte {
	buf = append(buf, opcodeGroup5, modrmJMPrip, 0, 0, 0, 0)
	return binary.LittleEndian.AppendUint64(buf, uint64(dest))
}

// appendAbsCall appends the x86-64 equivalent of:
//
//	CALL [RIP+2]
//	JMP  +8
//	.quad dest
//
// The return address is the short JMP, which steps over the address.
func appendAbsCall(buf []byte, dest uintptr) []byte {
	buf = append(buf, opcodeGroup5, modrmCALLrip, 2, 0, 0, 0, opcodeJMPshort, 8)
	return binary.LittleEndian.AppendUint64(buf, uint64(dest))
}

// appendAbsCondJump appends a jump to dest taken when cond holds. x86-64 has
// no absolute Jcc, so the condition is inverted to skip an absolute jump.
func appendAbsCondJump(buf []byte, cond byte, dest uintptr) []byte {
	buf = append(buf, opcodeJccShort|(cond^1), absJumpSize)
	return appendAbsJump(buf, dest)
}

// appendRel32 appends opcode followed by a rel32 operand to dest. The
// instruction is assumed to start at pc.
func appendRel32(buf []byte, pc uintptr, dest uintptr, mode int, opcode ...byte) ([]byte, bool) {
	next := pc + uintptr(len(opcode)) + 4
	disp, ok := rel32(next, dest, mode)
	if !ok {
		return buf, false
	}
	buf = append(buf, opcode...)
	return binary.LittleEndian.AppendUint32(buf, uint32(disp)), true
}

// jumpPatch returns the bytes written over a target at pc: a jump to dest
// padded to size with NOPs.
func jumpPatch(pc, dest uintptr, size, mode int) ([]byte, bool) {
	buf := make([]byte, 0, size)
	if mode == insn.Mode64 {
		buf = appendAbsJump(buf, dest)
	} else {
		var ok bool
		buf, ok = appendRel32(buf, pc, dest, mode, opcodeJMPrel)
		if !ok {
			return nil, false
		}
	}

	// Pad to the end of the last overwritten instruction so nothing
	// jumps into half an instruction.
	for len(buf) < size {
		buf = append(buf, opcodeNOP)
	}
	return buf, true
}
