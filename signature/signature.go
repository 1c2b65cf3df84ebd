// Package signature finds functions and data in process memory by masked
// byte patterns.
package signature

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalid is returned when constructing a malformed signature.
	ErrInvalid = errors.New("invalid signature")

	// ErrNotFound is returned by lookups that require a match.
	ErrNotFound = errors.New("signature not found")
)

// Signature is a byte pattern with a per-byte mask. Where Mask is false any
// byte matches.
type Signature struct {
	Bytes []byte
	Mask  []bool
}

// New returns a signature from bytes and a mask of the same length. A nil mask
// makes every byte significant.
func New(b []byte, mask []bool) (Signature, error) {
	if len(b) == 0 {
		return Signature{}, errors.Wrap(ErrInvalid, "empty pattern")
	}
	if mask == nil {
		mask = make([]bool, len(b))
		for i := range mask {
			mask[i] = true
		}
	}
	if len(mask) != len(b) {
		return Signature{}, errors.Wrapf(ErrInvalid, "%d bytes with a %d entry mask", len(b), len(mask))
	}
	return Signature{Bytes: b, Mask: mask}, nil
}

// FromMask builds a signature from bytes and a mask string where 'X' (or 'x')
// marks a byte that must match and any other character is a wildcard.
func FromMask(b []byte, mask string) (Signature, error) {
	m := make([]bool, len(mask))
	for i := 0; i < len(mask); i++ {
		m[i] = mask[i] == 'X' || mask[i] == 'x'
	}
	return New(b, m)
}

// Parse reads a space-separated hex pattern such as "48 8B ?? 05". Either "?"
// or "??" is a wildcard.
func Parse(pattern string) (Signature, error) {
	fields := strings.Fields(pattern)

	b := make([]byte, len(fields))
	mask := make([]bool, len(fields))
	for i, f := range fields {
		if f == "?" || f == "??" {
			continue
		}
		if len(f) != 2 {
			return Signature{}, errors.Wrapf(ErrInvalid, "token %q", f)
		}
		v, err := hex.DecodeString(f)
		if err != nil {
			return Signature{}, errors.Wrapf(ErrInvalid, "token %q: %v", f, err)
		}
		b[i] = v[0]
		mask[i] = true
	}
	return New(b, mask)
}

// MustNew is like New but panics on error.
func MustNew(b []byte, mask []bool) Signature {
	return must(New(b, mask))
}

// MustFromMask is like FromMask but panics on error.
func MustFromMask(b []byte, mask string) Signature {
	return must(FromMask(b, mask))
}

// MustParse is like Parse but panics on error. It is meant for package-level
// signature tables.
func MustParse(pattern string) Signature {
	return must(Parse(pattern))
}

func must(s Signature, err error) Signature {
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the length of the pattern.
func (s Signature) Len() int { return len(s.Bytes) }

// String formats the signature the way Parse reads it.
func (s Signature) String() string {
	var sb strings.Builder
	for i, b := range s.Bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if !s.Mask[i] {
			sb.WriteString("??")
			continue
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}

// Match reports whether p matches the signature. p must be at least as long
// as the signature.
func (s Signature) Match(p []byte) bool {
	if len(p) < len(s.Bytes) {
		return false
	}
	for i, b := range s.Bytes {
		if s.Mask[i] && p[i] != b {
			return false
		}
	}
	return true
}

// anchor returns the first significant byte, or -1 when every byte is a
// wildcard.
func (s Signature) anchor() int {
	for i, m := range s.Mask {
		if m {
			return i
		}
	}
	return -1
}
