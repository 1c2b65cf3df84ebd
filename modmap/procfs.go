//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package modmap

import (
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// ReadMappings reads /proc/<pid>/maps from fs.
func ReadMappings(fs procfs.FS, pid int) ([]Mapping, error) {
	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "process %d", pid)
	}

	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, errors.Wrapf(err, "reading maps of process %d", pid)
	}

	mappings := make([]Mapping, 0, len(maps))
	for _, m := range maps {
		mappings = append(mappings, Mapping{
			Start: m.StartAddr,
			End:   m.EndAddr,
			Perms: convertPerms(m.Perms),
			Path:  m.Pathname,
		})
	}
	return mappings, nil
}

// DescribeProc returns the module named name in process pid, read from fs.
// Searching it with Find is only valid when pid is the current process.
func DescribeProc(fs procfs.FS, pid int, name string) (*Module, error) {
	mappings, err := ReadMappings(fs, pid)
	if err != nil {
		return nil, err
	}
	return Build(name, mappings)
}

func convertPerms(p *procfs.ProcMapPermissions) Permissions {
	if p == nil {
		return 0
	}

	var perms Permissions
	if p.Read {
		perms |= Read
	}
	if p.Write {
		perms |= Write
	}
	if p.Execute {
		perms |= Execute
	}
	if p.Private {
		perms |= Private
	}
	if p.Shared {
		perms |= Shared
	}
	return perms
}

func currentMappings() ([]Mapping, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errors.Wrap(err, "opening procfs")
	}
	return ReadMappings(fs, os.Getpid())
}
