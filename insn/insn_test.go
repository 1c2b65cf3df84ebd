package insn

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/detour/memory"
)

func TestDecode(t *testing.T) {
	const base = 0x1000

	tests := map[string]struct {
		mode    int
		code    []byte
		len     int
		kind    Kind
		target  uintptr
		relOff  int
		relSize int
		cond    byte
	}{
		"push rbp":             {mode: 64, code: []byte{0x55}, len: 1, kind: Plain},
		"go stack check":       {mode: 64, code: []byte{0x49, 0x3b, 0x66, 0x10}, len: 4, kind: Plain},
		"sub rsp imm8":         {mode: 64, code: []byte{0x48, 0x83, 0xec, 0x18}, len: 4, kind: Plain},
		"ret":                  {mode: 64, code: []byte{0xc3}, len: 1, kind: Return},
		"ret imm16":            {mode: 32, code: []byte{0xc2, 0x08, 0x00}, len: 3, kind: Return},
		"jmp rax":              {mode: 64, code: []byte{0xff, 0xe0}, len: 2, kind: IndirectJump},
		"call rax":             {mode: 64, code: []byte{0xff, 0xd0}, len: 2, kind: Plain},
		"loop":                 {mode: 64, code: []byte{0xe2, 0xfe}, len: 2, kind: LoopJump, target: base, relOff: 1, relSize: 1},
		"jrcxz":                {mode: 64, code: []byte{0xe3, 0x00}, len: 2, kind: LoopJump, target: base + 2, relOff: 1, relSize: 1},
		"jecxz":                {mode: 32, code: []byte{0xe3, 0x10}, len: 2, kind: LoopJump, target: base + 0x12, relOff: 1, relSize: 1},
		"call rel32 to self":   {mode: 64, code: []byte{0xe8, 0xfb, 0xff, 0xff, 0xff}, len: 5, kind: RelCall, target: base, relOff: 1, relSize: 4},
		"call rel32 32-bit":    {mode: 32, code: []byte{0xe8, 0x10, 0x00, 0x00, 0x00}, len: 5, kind: RelCall, target: base + 0x15, relOff: 1, relSize: 4},
		"jmp rel32":            {mode: 64, code: []byte{0xe9, 0x00, 0x01, 0x00, 0x00}, len: 5, kind: RelJump, target: base + 0x105, relOff: 1, relSize: 4},
		"jmp rel8 backwards":   {mode: 64, code: []byte{0xeb, 0xfe}, len: 2, kind: RelJump, target: base, relOff: 1, relSize: 1},
		"je rel8":              {mode: 64, code: []byte{0x74, 0x05}, len: 2, kind: CondJump, target: base + 7, relOff: 1, relSize: 1, cond: 0x4},
		"jbe rel8":             {mode: 32, code: []byte{0x76, 0x2b}, len: 2, kind: CondJump, target: base + 0x2d, relOff: 1, relSize: 1, cond: 0x6},
		"jne rel32":            {mode: 64, code: []byte{0x0f, 0x85, 0x10, 0x00, 0x00, 0x00}, len: 6, kind: CondJump, target: base + 0x16, relOff: 2, relSize: 4, cond: 0x5},
		"lea rip":              {mode: 64, code: []byte{0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00}, len: 7, kind: RIPRelative, target: base + 0x17, relOff: 3, relSize: 4},
		"lea rip backwards":    {mode: 64, code: []byte{0x48, 0x8d, 0x05, 0x00, 0xff, 0xff, 0xff}, len: 7, kind: RIPRelative, target: base + 7 - 0x100, relOff: 3, relSize: 4},
		"endbr64":              {mode: 64, code: []byte{0xf3, 0x0f, 0x1e, 0xfa}, len: 4, kind: Plain},
		"endbr32":              {mode: 32, code: []byte{0xf3, 0x0f, 0x1e, 0xfb}, len: 4, kind: Plain},
		"cmp rip with imm8":    {mode: 64, code: []byte{0x83, 0x3d, 0x10, 0x00, 0x00, 0x00, 0x05}, len: 7, kind: RIPRelative, target: base + 0x17, relOff: 2, relSize: 4},
		"jmp [rip]":            {mode: 64, code: []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00}, len: 6, kind: IndirectJump, target: base + 6, relOff: 2, relSize: 4},
		"mov eax [abs] 32-bit": {mode: 32, code: []byte{0xa1, 0x00, 0x10, 0x00, 0x00}, len: 5, kind: Plain},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			in, err := Decode(memory.NewView(base, tc.code), base, tc.mode)
			require.NoError(t, err)

			assert.Equal(uintptr(base), in.Addr)
			assert.Equal(tc.len, in.Len)
			assert.Equal(tc.kind, in.Kind, "kind %v", in.Kind)
			assert.Equal(tc.relSize, in.RelSize)
			if tc.relSize > 0 {
				assert.Equal(tc.target, in.Target)
				assert.Equal(tc.relOff, in.RelOff)
			}
			assert.Equal(tc.cond, in.Cond)
		})
	}
}

func TestPositionDependent(t *testing.T) {
	assert := assert.New(t)

	decode := func(mode int, code ...byte) Instruction {
		in, err := Decode(memory.NewView(0x1000, code), 0x1000, mode)
		require.NoError(t, err)
		return in
	}

	assert.False(decode(64, 0x55).PositionDependent())
	assert.False(decode(64, 0xff, 0xe0).PositionDependent())
	assert.True(decode(64, 0xff, 0x25, 0, 0, 0, 0).PositionDependent())
	assert.True(decode(64, 0xe8, 0, 0, 0, 0).PositionDependent())
	assert.True(decode(32, 0x74, 0x00).PositionDependent())
	assert.True(decode(64, 0x48, 0x8b, 0x05, 0, 0, 0, 0).PositionDependent())

	assert.True(decode(64, 0xc3).EndsFlow())
	assert.True(decode(64, 0xeb, 0x00).EndsFlow())
	assert.True(decode(64, 0xff, 0xe0).EndsFlow())
	assert.False(decode(64, 0x74, 0x00).EndsFlow())
	assert.False(decode(64, 0xe8, 0, 0, 0, 0).EndsFlow())
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]struct {
		mode int
		code []byte
	}{
		"empty":         {mode: 64, code: nil},
		"truncated":     {mode: 64, code: []byte{0xe8, 0x00, 0x00}},
		"lone prefix":   {mode: 64, code: []byte{0x48}},
		"truncated rip": {mode: 64, code: []byte{0x48, 0x8b, 0x05, 0x00}},
		"bad mode":      {mode: 16, code: []byte{0x90}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(memory.NewView(0x1000, tc.code), 0x1000, tc.mode)
			assert.True(t, errors.Is(err, ErrDecode), "got %v", err)
		})
	}

	_, err := Length(memory.NewView(0x1000, []byte{0x90}), 0x2000, 64)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestWalk(t *testing.T) {
	tests := map[string]struct {
		mode int
		code []byte
		n    int
		lens []int
	}{
		"go amd64 prologue": {
			mode: 64,
			code: []byte{
				0x49, 0x3b, 0x66, 0x10, // cmp rsp, [r14+0x10]
				0x76, 0x2b, // jbe
				0x55,             // push rbp
				0x48, 0x89, 0xe5, // mov rbp, rsp
				0x48, 0x83, 0xec, 0x18, // sub rsp, 0x18
				0x48, 0x89, 0x44, 0x24, 0x28, // mov [rsp+0x28], rax
			},
			n:    14,
			lens: []int{4, 2, 1, 3, 4},
		},
		"msvc x64 prologue": {
			mode: 64,
			code: []byte{
				0x48, 0x89, 0x5c, 0x24, 0x08, // mov [rsp+8], rbx
				0x57,                   // push rdi
				0x48, 0x83, 0xec, 0x20, // sub rsp, 0x20
				0x48, 0x8b, 0x05, 0x00, 0x10, 0x00, 0x00, // mov rax, [rip+0x1000]
				0xc3,
			},
			n:    14,
			lens: []int{5, 1, 4, 7},
		},
		"cet prologue": {
			mode: 64,
			code: []byte{
				0xf3, 0x0f, 0x1e, 0xfa, // endbr64
				0x55,             // push rbp
				0x48, 0x89, 0xe5, // mov rbp, rsp
				0x48, 0x83, 0xec, 0x20, // sub rsp, 0x20
				0x89, 0x7d, 0xec, // mov [rbp-0x14], edi
			},
			n:    14,
			lens: []int{4, 1, 3, 4, 3},
		},
		"i386 frame": {
			mode: 32,
			code: []byte{
				0x55,       // push ebp
				0x8b, 0xec, // mov ebp, esp
				0x83, 0xec, 0x10, // sub esp, 0x10
				0x56, // push esi
			},
			n:    5,
			lens: []int{1, 2, 3},
		},
		"exact fit": {
			mode: 32,
			code: []byte{0xe8, 0x00, 0x00, 0x00, 0x00, 0xc3},
			n:    5,
			lens: []int{5},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			insts, err := Walk(memory.NewView(0x400000, tc.code), 0x400000, tc.n, tc.mode)
			require.NoError(t, err)

			lens := make([]int, len(insts))
			for i, in := range insts {
				lens[i] = in.Len
			}
			assert.Equal(t, tc.lens, lens)
		})
	}
}

func TestWalkTruncated(t *testing.T) {
	_, err := Walk(memory.NewView(0, []byte{0x55, 0x48, 0x89}), 0, 5, 64)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDisassemble(t *testing.T) {
	out, err := Disassemble(memory.NewView(0x1000, []byte{0x55, 0xc3}), 64)
	require.NoError(t, err)
	assert.Contains(t, out, "0x00001000\t55")
	assert.Contains(t, out, "0x00001001\tc3")

	out, err = Disassemble(memory.NewView(0x1000, []byte{0xf3, 0x0f, 0x1e, 0xfa, 0xc3}), 64)
	require.NoError(t, err)
	assert.Contains(t, out, "f30f1efa")
	assert.Contains(t, out, "ENDBR64")
}
