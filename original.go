package detour

import "reflect"

// Original returns a function with the same behavior as the original version
// of fn. If fn has not been hooked in r, fn itself is returned.
//
// If fn is not a function Original returns the zero value of T.
//
// Technically, this returns the trampoline: the relocated prologue of fn
// followed by a jump into the rest of fn.
func Original[T any](r *Registry, fn T) T {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func || fnv.IsNil() {
		var zero T
		return zero
	}

	h, ok := r.Lookup(fnv.Pointer())
	if !ok {
		// Not hooked, so return the original func.
		return fn
	}

	return makeFunc(fnv.Type(), h.Trampoline).Interface().(T)
}
