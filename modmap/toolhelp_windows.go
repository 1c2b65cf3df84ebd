//go:build windows

package modmap

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// currentMappings lists the committed regions of every module loaded in the
// current process. Each module is walked with VirtualQuery so that regions
// carry their own protection, like the entries of a Unix maps file.
func currentMappings() ([]Mapping, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, 0)
	if err != nil {
		return nil, errors.Wrap(err, "module snapshot")
	}
	defer windows.CloseHandle(snap)

	var mappings []Mapping

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Module32First(snap, &entry); err == nil; err = windows.Module32Next(snap, &entry) {
		path := windows.UTF16ToString(entry.ExePath[:])
		regions, err := queryRegions(entry.ModBaseAddr, uintptr(entry.ModBaseSize))
		if err != nil {
			return nil, errors.Wrapf(err, "querying %s", path)
		}
		for _, r := range regions {
			mappings = append(mappings, Mapping{Start: r.Start, End: r.End, Perms: r.Perms, Path: path})
		}
	}
	if err != windows.ERROR_NO_MORE_FILES {
		return nil, errors.Wrap(err, "walking modules")
	}

	return mappings, nil
}

func queryRegions(base, size uintptr) ([]Region, error) {
	var regions []Region

	end := base + size
	for addr := base; addr < end; {
		var info windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
			return nil, err
		}
		if info.RegionSize == 0 {
			break
		}

		next := info.BaseAddress + info.RegionSize
		if info.State == windows.MEM_COMMIT {
			regions = append(regions, Region{
				Start: addr,
				End:   min(next, end),
				Perms: convertProtect(info.Protect),
			})
		}
		addr = next
	}

	return regions, nil
}

func convertProtect(protect uint32) Permissions {
	const modifiers = windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE

	switch protect &^ modifiers {
	case windows.PAGE_READONLY:
		return Read | Private
	case windows.PAGE_READWRITE:
		return Read | Write | Private
	case windows.PAGE_WRITECOPY:
		return Read | Write | Private
	case windows.PAGE_EXECUTE:
		return Execute | Private
	case windows.PAGE_EXECUTE_READ:
		return Read | Execute | Private
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return Read | Write | Execute | Private
	}
	return 0
}
