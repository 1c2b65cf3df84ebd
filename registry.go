package detour

import (
	"bytes"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pboyd/detour/insn"
	"github.com/pboyd/detour/memory"
)

// Hook is an installed hook.
type Hook struct {
	// Target is the hooked function.
	Target uintptr

	// Replacement is where calls to Target now go.
	Replacement uintptr

	// Trampoline runs the original Target.
	Trampoline uintptr

	// Overwritten is the number of bytes replaced at Target.
	Overwritten int

	// Slot is the index of the trampoline's slot in the pool.
	Slot int

	original []byte
	patch    []byte
}

// OriginalBytes returns a copy of the bytes the patch replaced.
func (h Hook) OriginalBytes() []byte { return bytes.Clone(h.original) }

// Request is one hook of a batch.
type Request struct {
	Target      uintptr
	Replacement uintptr
}

// Registry installs hooks and owns their trampolines. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.Mutex
	log  logrus.Ext1FieldLogger
	mode int
	pool *slotPool

	// hooks holds the active hooks by target; stack holds them in install
	// order.
	hooks map[uintptr]*Hook
	stack []*Hook

	// rewound records the patch last written to each target whose hook
	// was rewound.
	rewound map[uintptr][]byte
}

// New returns a Registry with a trampoline pool of cfg.Capacity slots.
func New(cfg Config) (*Registry, error) {
	if hostMode == 0 {
		return nil, ErrUnsupportedArch
	}
	if err := cfg.validate(hostMode); err != nil {
		return nil, err
	}

	arena, buf, err := newCodeArena(cfg.Capacity * cfg.SlotSize)
	if err != nil {
		return nil, err
	}

	return newRegistry(cfg, hostMode, newSlotPool(buf, cfg.SlotSize, arena)), nil
}

func newRegistry(cfg Config, mode int, pool *slotPool) *Registry {
	return &Registry{
		log:     cfg.Logger,
		mode:    mode,
		pool:    pool,
		hooks:   map[uintptr]*Hook{},
		rewound: map[uintptr][]byte{},
	}
}

// Install redirects calls of the function at target to replacement and
// returns the address of a trampoline that runs the original function.
//
// target's prologue is decoded from live memory, so target must be the
// entry point of a function at least as long as the patch, or followed by
// padding.
func (r *Registry) Install(target, replacement uintptr) (uintptr, error) {
	return r.InstallView(r.liveCode(target), target, replacement)
}

// liveCode returns enough of the code at target for the last instruction of
// a prologue to start one byte before the end of the patch.
func (r *Registry) liveCode(target uintptr) memory.View {
	const maxInstLen = 15
	return memory.Live(target, patchSize(r.mode)+maxInstLen-1)
}

// InstallView is like Install but decodes the prologue from code, which must
// be the live memory around target. Decoding never reads beyond code, so
// this is the way to hook a function of known length.
func (r *Registry) InstallView(code memory.View, target, replacement uintptr) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.install(code, target, replacement)
	if err != nil {
		return 0, err
	}
	return h.Trampoline, nil
}

func (r *Registry) install(code memory.View, target, replacement uintptr) (*Hook, error) {
	log := r.log.WithFields(logrus.Fields{
		"target":      hexAddr(target),
		"replacement": hexAddr(replacement),
	})

	if _, ok := r.hooks[target]; ok {
		return nil, errors.Wrapf(ErrAlreadyHooked, "%#x", target)
	}

	if patch, ok := r.rewound[target]; ok {
		current, err := code.Bytes(target, len(patch))
		if err == nil && bytes.Equal(current, patch) {
			return nil, errors.Wrapf(ErrStaleTarget, "%#x", target)
		}
		delete(r.rewound, target)
	}

	s, err := r.pool.allocate()
	if err != nil {
		return nil, err
	}

	h, err := r.patch(code, target, replacement, s)
	if err != nil {
		// The slot is the last one handed out, so it can always be
		// returned.
		r.pool.rewind(1)
		log.WithError(err).Debug("install failed")
		return nil, err
	}

	r.hooks[target] = h
	r.stack = append(r.stack, h)

	log.WithFields(logrus.Fields{
		"trampoline": hexAddr(h.Trampoline),
		"consumed":   h.Overwritten,
		"slot":       h.Slot,
	}).Debug("hook installed")

	if traceEnabled(r.log) {
		listing, _ := insn.Disassemble(memory.Live(h.Trampoline, r.pool.slotSize), r.mode)
		log.Tracef("trampoline:\n%s", listing)
	}

	return h, nil
}

// patch builds the trampoline into s and then overwrites target. Nothing
// is written before the trampoline is known to be correct.
func (r *Registry) patch(code memory.View, target, replacement uintptr, s slot) (*Hook, error) {
	minBytes := patchSize(r.mode)

	tramp, consumed, err := buildTrampoline(code, target, s.addr, minBytes, r.mode, r.pool.slotSize)
	if err != nil {
		return nil, err
	}

	patch, ok := jumpPatch(target, replacement, consumed, r.mode)
	if !ok {
		return nil, errors.Wrapf(ErrRelocationUnsupported, "replacement %#x out of reach of %#x", replacement, target)
	}

	// code may be live memory, so copy the bytes before the patch lands.
	original, err := code.Bytes(target, consumed)
	if err != nil {
		return nil, err
	}
	original = bytes.Clone(original)

	if err := r.pool.write(s, tramp); err != nil {
		return nil, err
	}

	span := memory.NewSpan(target, consumed, memory.ProtRX)
	if err := span.Write(0, patch); err != nil {
		return nil, errors.Wrapf(err, "patching %#x", target)
	}

	return &Hook{
		Target:      target,
		Replacement: replacement,
		Trampoline:  s.addr,
		Overwritten: consumed,
		Slot:        s.index,
		original:    original,
		patch:       patch,
	}, nil
}

// Rewind releases the trampoline slots of the last count hooks, which are
// no longer active. The targets are not restored: rewinding is for code
// that has been unloaded, or will be reloaded, such as a VM module.
//
// The slot cursor must stay in [0, capacity) afterwards, otherwise nothing
// changes and ErrRewindOutOfRange is returned.
func (r *Registry) Rewind(count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pool.rewind(count); err != nil {
		return err
	}

	for _, h := range r.popHooks(count) {
		r.rewound[h.Target] = h.patch
	}

	r.log.WithFields(logrus.Fields{
		"count":  count,
		"active": len(r.stack),
	}).Debug("hooks rewound")

	return nil
}

// popHooks removes the last count hooks from the active set and returns
// them, newest first.
func (r *Registry) popHooks(count int) []*Hook {
	count = min(count, len(r.stack))

	popped := make([]*Hook, 0, count)
	for i := len(r.stack) - 1; i >= len(r.stack)-count; i-- {
		h := r.stack[i]
		delete(r.hooks, h.Target)
		popped = append(popped, h)
	}
	r.stack = r.stack[:len(r.stack)-count]
	return popped
}

// InstallBatch installs every request. If any fail, the hooks that
// succeeded are removed again, their targets restored and their slots
// released, and the error is a *BatchError. On success the trampolines are
// returned in request order.
func (r *Registry) InstallBatch(reqs []Request) ([]uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trampolines := make([]uintptr, len(reqs))
	var (
		installed int
		failures  []*RequestError
	)
	for i, req := range reqs {
		h, err := r.install(r.liveCode(req.Target), req.Target, req.Replacement)
		if err != nil {
			failures = append(failures, &RequestError{Index: i, Request: req, Err: err})
			continue
		}
		trampolines[i] = h.Trampoline
		installed++
	}

	if len(failures) == 0 {
		return trampolines, nil
	}

	r.log.WithFields(logrus.Fields{
		"failed":    len(failures),
		"installed": installed,
	}).Debug("batch failed, removing its hooks")

	if err := r.unwind(installed); err != nil {
		return nil, err
	}
	return nil, &BatchError{Failures: failures}
}

// unwind removes the last count hooks, restoring their targets.
func (r *Registry) unwind(count int) error {
	if count == 0 {
		return nil
	}
	if err := r.pool.rewind(count); err != nil {
		return err
	}
	for _, h := range r.popHooks(count) {
		span := memory.NewSpan(h.Target, len(h.original), memory.ProtRX)
		if err := span.Write(0, h.original); err != nil {
			return errors.Wrapf(err, "restoring %#x", h.Target)
		}
	}
	return nil
}

// Hooks returns the active hooks in install order.
func (r *Registry) Hooks() []Hook {
	r.mu.Lock()
	defer r.mu.Unlock()

	hooks := make([]Hook, len(r.stack))
	for i, h := range r.stack {
		hooks[i] = *h
	}
	return hooks
}

// Lookup returns the active hook of target.
func (r *Registry) Lookup(target uintptr) (Hook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hooks[target]
	if !ok {
		return Hook{}, false
	}
	return *h, true
}

type hexAddr uintptr

func (a hexAddr) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

func traceEnabled(l logrus.Ext1FieldLogger) bool {
	switch l := l.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.TraceLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.TraceLevel)
	}
	return true
}
