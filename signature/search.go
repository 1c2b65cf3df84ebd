package signature

import (
	"bytes"

	"github.com/pboyd/detour/memory"
)

// Search returns the lowest address in v where sig matches. The scan never
// reads past the end of the view.
func Search(v memory.View, sig Signature) (uintptr, bool) {
	data, err := v.Bytes(v.Base(), v.Len())
	if err != nil {
		return 0, false
	}
	off := index(data, sig)
	if off < 0 {
		return 0, false
	}
	return v.Base() + uintptr(off), true
}

// SearchAll returns every address in v where sig matches, including
// overlapping matches.
func SearchAll(v memory.View, sig Signature) []uintptr {
	data, err := v.Bytes(v.Base(), v.Len())
	if err != nil {
		return nil
	}

	var found []uintptr
	for start := 0; ; {
		off := index(data[start:], sig)
		if off < 0 {
			return found
		}
		found = append(found, v.Base()+uintptr(start+off))
		start += off + 1
	}
}

// SearchRange scans length bytes of live memory at base. The caller must
// guarantee the whole range is mapped and readable.
func SearchRange(base uintptr, length int, sig Signature) (uintptr, bool) {
	return Search(memory.Live(base, length), sig)
}

func index(data []byte, sig Signature) int {
	n := len(sig.Bytes)
	if n == 0 || len(data) < n {
		return -1
	}

	a := sig.anchor()
	if a < 0 {
		return 0
	}

	last := len(data) - n
	for start := 0; start <= last; {
		// Jump to the next place the anchor byte could line up.
		i := bytes.IndexByte(data[start+a:last+a+1], sig.Bytes[a])
		if i < 0 {
			return -1
		}
		start += i
		if sig.Match(data[start : start+n]) {
			return start
		}
		start++
	}
	return -1
}
