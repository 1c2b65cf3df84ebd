package detour

import (
	"reflect"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/pboyd/detour/memory"
)

// HookFunc hooks the Go function target so that calls to it run
// replacement, and returns a function that runs the original target. An
// error is returned if target or replacement are not functions or if their
// signatures do not match.
//
// replacement must not be a closure that captures variables; the jump to it
// does not carry the closure context.
//
// Note that if target has been inlined, callers of the inlined copies are
// not redirected. If possible, add a noinline directive to work-around this
// problem:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
func HookFunc[T any](r *Registry, target, replacement T) (T, error) {
	var zero T

	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Func {
		return zero, errors.Errorf("not a function, kind: %v", tv.Kind())
	}
	rv := reflect.ValueOf(replacement)
	if rv.Kind() != reflect.Func {
		return zero, errors.Errorf("not a function, kind: %v", rv.Kind())
	}
	if tv.IsNil() || rv.IsNil() {
		return zero, errors.New("nil function")
	}
	if !funcsAreEqual(tv, rv) {
		return zero, signatureMismatch(tv, rv)
	}

	code, err := funcCode(tv)
	if err != nil {
		return zero, err
	}

	tramp, err := r.InstallView(code, tv.Pointer(), rv.Pointer())
	if err != nil {
		return zero, err
	}

	return makeFunc(tv.Type(), tramp).Interface().(T), nil
}

// FuncAt returns a function of type T that calls the code at addr. T must be
// a func type matching the code's calling convention, which for Go code is
// the signature of the function it was compiled from.
func FuncAt[T any](addr uintptr) T {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Func {
		panic("detour: FuncAt type is not a func: " + typ.String())
	}
	return makeFunc(typ, addr).Interface().(T)
}

// makeFunc returns a func value of type typ that calls addr.
func makeFunc(typ reflect.Type, addr uintptr) reflect.Value {
	// A func value points to a word holding the entry address. Allocate
	// that word so the GC owns it.
	entry := new(uintptr)
	*entry = addr

	fn := reflect.New(typ)
	*(*unsafe.Pointer)(fn.UnsafePointer()) = unsafe.Pointer(entry)
	return fn.Elem()
}

// funcCode returns a view of the machine code of the Go function fn.
func funcCode(fn reflect.Value) (memory.View, error) {
	if fn.Kind() != reflect.Func {
		return memory.View{}, errors.Errorf("not a function, kind: %v", fn.Kind())
	}

	entry := fn.Pointer()

	// To find the length, look at the offsets of every function and find
	// the one that comes immediately after this one.
	info := findfunc(entry)
	if info._func == nil {
		return memory.View{}, errors.Errorf("no function at %#x", entry)
	}
	funcOffset := uint32(entry - info.datap.text)
	length := uint32(info.datap.etext - entry)

	for _, ft := range info.datap.ftab {
		// Does this function come before the one we're looking for?
		if ft.entryoff <= funcOffset {
			continue
		}

		// Is the distance between these two functions less than what we've seen before?
		if testLength := ft.entryoff - funcOffset; testLength < length {
			length = testLength
		}
	}

	return memory.Live(entry, int(length)), nil
}
