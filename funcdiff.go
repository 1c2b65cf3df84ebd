package detour

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

func funcsAreEqual(a, b reflect.Value) bool {
	at := a.Type()
	bt := b.Type()
	if at.NumIn() != bt.NumIn() || at.NumOut() != bt.NumOut() {
		return false
	}
	if at.IsVariadic() != bt.IsVariadic() {
		return false
	}

	for i := 0; i < at.NumIn(); i++ {
		if at.In(i) != bt.In(i) {
			return false
		}
	}

	for i := 0; i < at.NumOut(); i++ {
		if at.Out(i) != bt.Out(i) {
			return false
		}
	}

	return true
}

// signatureMismatch describes how the signatures of a and b differ.
func signatureMismatch(a, b reflect.Value) error {
	diff := diffFuncs(a, b)
	if msg := diff.String(); msg != "" {
		return errors.Errorf("function signatures do not match: %s", msg)
	}
	return errors.Errorf("function signatures do not match: %v != %v", a.Type(), b.Type())
}

type funcDifferences struct {
	In  []*argDifference
	Out []*argDifference
}

func (d *funcDifferences) String() string {
	var msgs []string
	for i, arg := range d.In {
		if arg != nil {
			msgs = append(msgs, fmt.Sprintf("argument %d: %v != %v", i, arg.A, arg.B))
		}
	}
	for i, out := range d.Out {
		if out != nil {
			msgs = append(msgs, fmt.Sprintf("output %d: %v != %v", i, out.A, out.B))
		}
	}
	return strings.Join(msgs, ", ")
}

type argDifference struct {
	A reflect.Type
	B reflect.Type
}

func diffFuncs(a, b reflect.Value) *funcDifferences {
	at := a.Type()
	bt := b.Type()

	return &funcDifferences{
		In:  diffTypes(at.NumIn(), bt.NumIn(), at.In, bt.In),
		Out: diffTypes(at.NumOut(), bt.NumOut(), at.Out, bt.Out),
	}
}

// diffTypes compares two lists of types position by position. A missing
// entry on either side is nil.
func diffTypes(na, nb int, a, b func(int) reflect.Type) []*argDifference {
	diffs := make([]*argDifference, max(na, nb))
	for i := range diffs {
		var at, bt reflect.Type
		if i < na {
			at = a(i)
		}
		if i < nb {
			bt = b(i)
		}
		if at != bt {
			diffs[i] = &argDifference{A: at, B: bt}
		}
	}
	return diffs
}
