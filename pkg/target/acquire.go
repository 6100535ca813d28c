package target

import (
	"errors"
	"fmt"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// ErrProcessNotFound is returned when no running process matches.
var ErrProcessNotFound = errors.New("process not found")

// Target 被调试的目标进程
type Target struct {
	Pid        int
	Exe        string
	ModuleBase memory.Address // load address of Exe
	Window     uintptr        // main window handle, 0 when unknown
}

func (t Target) String() string {
	return fmt.Sprintf("%s pid:%d base:%v", t.Exe, t.Pid, t.ModuleBase)
}

// Acquire finds the process running exe.
func Acquire(exe string) (Target, error) {
	pid, err := findProcess(exe)
	if err != nil {
		return Target{}, err
	}
	return AcquirePid(pid, exe)
}

// AcquirePid resolves the module base of exe inside pid.
func AcquirePid(pid int, exe string) (Target, error) {
	base, err := moduleBase(pid, exe)
	if err != nil {
		return Target{}, fmt.Errorf("process %d: %w", pid, err)
	}
	return Target{
		Pid:        pid,
		Exe:        exe,
		ModuleBase: base,
		Window:     findWindow(pid),
	}, nil
}
