//go:build !linux && !windows

package target

import (
	"fmt"
	"runtime"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

func findProcess(exe string) (int, error) {
	return 0, fmt.Errorf("%s: %w on %s", exe, ErrProcessNotFound, runtime.GOOS)
}

func moduleBase(pid int, module string) (memory.Address, error) {
	return 0, fmt.Errorf("module lookup not supported on %s", runtime.GOOS)
}

func findWindow(pid int) uintptr {
	return 0
}
