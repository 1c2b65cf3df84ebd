package detour

import _ "unsafe"

// The types below mirror the runtime's symbol table far enough to find where
// a function's code ends. Only the fields up to the ones read here need to
// match the runtime's layout.

type funcInfo struct {
	*_func
	datap *moduledata
}

// _func is only ever handled by pointer.
type _func struct {
	entryOff uint32
	nameOff  int32
}

// moduledata records the layout of one loaded Go module.
// See runtime/symtab.go.
type moduledata struct {
	pcHeader    uintptr
	funcnametab []byte
	cutab       []uint32
	filetab     []byte
	pctab       []byte
	pclntable   []byte
	ftab        []functab
	findfunctab uintptr

	minpc, maxpc uintptr
	text, etext  uintptr

	// Struct continues, omitting unused fields.
}

type functab struct {
	entryoff uint32 // relative to moduledata.text
	funcoff  uint32
}

//go:linkname findfunc runtime.findfunc
func findfunc(pc uintptr) funcInfo
