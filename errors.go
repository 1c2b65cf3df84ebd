package detour

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/pboyd/detour/insn"
	"github.com/pboyd/detour/memory"
)

var (
	// ErrDecode is returned when the target's prologue can't be decoded.
	ErrDecode = insn.ErrDecode

	// ErrPageProtection is returned when the OS refuses to change the
	// protection of the target's pages. It wraps the OS error.
	ErrPageProtection = memory.ErrProtect

	ErrRelocationUnsupported = errors.New("instruction cannot be relocated")
	ErrSlotExhausted         = errors.New("no free trampoline slots")
	ErrRewindOutOfRange      = errors.New("rewind out of range")
	ErrTooShort              = errors.New("function too short to hook")
	ErrTrampolineOverflow    = errors.New("trampoline does not fit in a slot")
	ErrAlreadyHooked         = errors.New("target already hooked")
	ErrStaleTarget           = errors.New("target still holds a rewound hook")
	ErrUnsupportedArch       = errors.New("unsupported architecture")
)

// RequestError is the failure of one request in a batch.
type RequestError struct {
	Index int
	Request
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d (target %#x): %v", e.Index, e.Target, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// BatchError is returned by InstallBatch when any request failed. Every
// hook of the batch has been removed.
type BatchError struct {
	Failures []*RequestError
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d of the batch failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
