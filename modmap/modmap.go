// Package modmap describes where a loaded module (an executable or shared
// library) lives in a process's address space, and searches it for
// signatures.
package modmap

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/pboyd/detour/memory"
	"github.com/pboyd/detour/signature"
)

var (
	// ErrModuleNotFound is returned when no mapping belongs to the module.
	ErrModuleNotFound = errors.New("module not found")

	// ErrAmbiguousModule is returned when the module name matches mappings
	// of more than one file.
	ErrAmbiguousModule = errors.New("module name matches more than one file")
)

// Permissions is the access granted to a mapping.
type Permissions uint8

const (
	Read Permissions = 1 << iota
	Write
	Execute
	Private
	Shared
)

// String formats the permissions like the maps file does, e.g. "r-xp".
func (p Permissions) String() string {
	s := []byte("----")
	if p&Read != 0 {
		s[0] = 'r'
	}
	if p&Write != 0 {
		s[1] = 'w'
	}
	if p&Execute != 0 {
		s[2] = 'x'
	}
	switch {
	case p&Shared != 0:
		s[3] = 's'
	case p&Private != 0:
		s[3] = 'p'
	}
	return string(s)
}

// Mapping is one entry of a process's memory map.
type Mapping struct {
	Start uintptr
	End   uintptr
	Perms Permissions
	Path  string
}

// Region is a contiguous range of a module's memory.
type Region struct {
	Start uintptr
	End   uintptr
	Perms Permissions
}

// Len returns the size of the region in bytes.
func (r Region) Len() int { return int(r.End - r.Start) }

// Contains reports whether addr falls within the region.
func (r Region) Contains(addr uintptr) bool { return addr >= r.Start && addr < r.End }

// View returns the live contents of the region. Only valid for regions of the
// current process.
func (r Region) View() memory.View { return memory.Live(r.Start, r.Len()) }

// Module is every mapped region of one file, in the order the OS listed them.
type Module struct {
	Name    string
	Path    string
	Regions []Region
}

// Build collects the mappings whose file name is name. The file name is the
// last component of the mapping's path. Mappings without a path, or with a
// pseudo path like "[heap]", are never matched.
func Build(name string, mappings []Mapping) (*Module, error) {
	mod := &Module{Name: name}
	for _, m := range mappings {
		base, ok := fileName(m.Path)
		if !ok || base != name {
			continue
		}
		if err := mod.add(m); err != nil {
			return nil, err
		}
	}
	if len(mod.Regions) == 0 {
		return nil, errors.Wrapf(ErrModuleNotFound, "%q", name)
	}
	return mod, nil
}

// BuildPath collects the mappings of the file at path. Unlike Build it can't
// be ambiguous.
func BuildPath(path string, mappings []Mapping) (*Module, error) {
	name, ok := fileName(path)
	if !ok {
		return nil, errors.Wrapf(ErrModuleNotFound, "%q is not a file path", path)
	}

	mod := &Module{Name: name, Path: path}
	for _, m := range mappings {
		if m.Path == path {
			mod.Regions = append(mod.Regions, Region{Start: m.Start, End: m.End, Perms: m.Perms})
		}
	}
	if len(mod.Regions) == 0 {
		return nil, errors.Wrapf(ErrModuleNotFound, "%q", path)
	}
	return mod, nil
}

func (m *Module) add(mp Mapping) error {
	if m.Path == "" {
		m.Path = mp.Path
	} else if m.Path != mp.Path {
		return errors.Wrapf(ErrAmbiguousModule, "%q is both %s and %s", m.Name, m.Path, mp.Path)
	}
	m.Regions = append(m.Regions, Region{Start: mp.Start, End: mp.End, Perms: mp.Perms})
	return nil
}

// fileName returns the text after the last path separator. Paths without a
// separator (anonymous and pseudo mappings) report false.
func fileName(path string) (string, bool) {
	i := strings.LastIndexAny(path, `/\`)
	if i < 0 || i == len(path)-1 {
		return "", false
	}
	return path[i+1:], true
}

// Base returns the lowest address of the module.
func (m *Module) Base() uintptr {
	var base uintptr
	for i, r := range m.Regions {
		if i == 0 || r.Start < base {
			base = r.Start
		}
	}
	return base
}

// Contains reports whether addr is inside one of the module's regions.
func (m *Module) Contains(addr uintptr) bool {
	for _, r := range m.Regions {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Find searches the module's readable regions in order and returns the first
// match. The module must belong to the current process.
func (m *Module) Find(sig signature.Signature) (uintptr, error) {
	for _, r := range m.Regions {
		if r.Perms&Read == 0 {
			continue
		}
		if addr, ok := signature.Search(r.View(), sig); ok {
			return addr, nil
		}
	}
	return 0, errors.Wrapf(signature.ErrNotFound, "%s in %s", sig, m.Name)
}

// Describe returns the module named name in the current process.
func Describe(name string) (*Module, error) {
	mappings, err := currentMappings()
	if err != nil {
		return nil, err
	}
	return Build(name, mappings)
}

// DescribePath returns the module loaded from path in the current process.
func DescribePath(path string) (*Module, error) {
	mappings, err := currentMappings()
	if err != nil {
		return nil, err
	}
	return BuildPath(path, mappings)
}
