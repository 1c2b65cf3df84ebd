//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris || windows)

package modmap

import (
	"runtime"

	"github.com/pkg/errors"
)

func currentMappings() ([]Mapping, error) {
	return nil, errors.Errorf("memory maps are not available on %s", runtime.GOOS)
}
