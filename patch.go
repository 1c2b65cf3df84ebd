package detour

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/pboyd/detour/memory"
	"github.com/pboyd/detour/signature"
)

// PatchMasked overwrites code at addr with the significant bytes of sig,
// leaving the bytes under wildcards as they are. The pages are read+execute
// afterwards.
func PatchMasked(addr uintptr, sig signature.Signature) error {
	span := memory.NewSpan(addr, sig.Len(), memory.ProtRX)

	current, err := span.View().Bytes(addr, sig.Len())
	if err != nil {
		return err
	}

	buf := maskedPatch(current, sig)
	if err := span.Write(0, buf); err != nil {
		return errors.Wrapf(err, "patching %d bytes at %#x", len(buf), addr)
	}
	return nil
}

// maskedPatch returns a copy of current with the significant bytes of sig
// written over it.
func maskedPatch(current []byte, sig signature.Signature) []byte {
	buf := make([]byte, len(sig.Bytes))
	copy(buf, current)
	for i, b := range sig.Bytes {
		if sig.Mask[i] {
			buf[i] = b
		}
	}
	return buf
}

// SwapPointer stores replacement in the pointer-sized slot at addr, typically
// an entry of a table of function pointers, and returns the previous value.
// The page is left read+write.
func SwapPointer(addr, replacement uintptr) (uintptr, error) {
	const size = int(unsafe.Sizeof(uintptr(0)))

	span := memory.NewSpan(addr, size, memory.ProtRW)

	old := *(*uintptr)(unsafe.Pointer(addr))

	buf := make([]byte, size)
	*(*uintptr)(unsafe.Pointer(unsafe.SliceData(buf))) = replacement
	if err := span.Write(0, buf); err != nil {
		return 0, errors.Wrapf(err, "swapping pointer at %#x", addr)
	}

	return old, nil
}
