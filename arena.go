package detour

import (
	"sync"

	"github.com/pboyd/malloc"
	"github.com/pkg/errors"
)

// codeArena is executable memory for trampolines. It is read+execute except
// between beginMutate and endMutate.
type codeArena struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	mutable  bool
}

// newCodeArena maps an arena and carves a single size byte block out of it.
// The arena is requested with poolMapFlags, which asks for low addresses
// where the OS supports it, so that RIP-relative operands of a low-loaded
// image stay in reach of the trampolines.
func newCodeArena(size int) (*codeArena, []byte, error) {
	a := &codeArena{}

	be := malloc.MmapBackend(malloc.MmapProt(mprotectRWX), malloc.MmapFlags(poolMapFlags))
	if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
		a.mprotect = protBE.Protect
	} else {
		a.mprotect = func(int) error {
			return nil
		}
	}

	a.Arena = malloc.NewArena(uint64(size), malloc.Backend(be))
	if a.Arena == nil {
		return nil, nil, errors.New("unable to initialize trampoline arena")
	}
	a.mutable = true

	buf, err := malloc.MallocSlice[byte](a.Arena, size)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "allocating %d byte trampoline pool", size)
	}
	for i := range buf {
		buf[i] = opcodeINT3
	}

	if err := a.endMutate(); err != nil {
		return nil, nil, errors.Wrap(err, "protecting trampoline pool")
	}
	return a, buf, nil
}

func (a *codeArena) beginMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRWX)
	if err == nil {
		a.mutable = true
	}
	return err
}

func (a *codeArena) endMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRX)
	if err == nil {
		a.mutable = false
	}
	return err
}
