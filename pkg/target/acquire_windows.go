package target

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"golang.org/x/sys/windows"
)

// findProcess returns the first process whose image name is exe.
func findProcess(exe string) (int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var pe windows.ProcessEntry32
	pe.Size = uint32(unsafe.Sizeof(pe))
	for err = windows.Process32First(snap, &pe); err == nil; err = windows.Process32Next(snap, &pe) {
		if strings.EqualFold(windows.UTF16ToString(pe.ExeFile[:]), exe) {
			return int(pe.ProcessID), nil
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return 0, fmt.Errorf("walk processes: %w", err)
	}
	return 0, fmt.Errorf("%s: %w", exe, ErrProcessNotFound)
}

// moduleBase looks module up in a module snapshot of pid. A 64-bit
// debugger needs TH32CS_SNAPMODULE32 to see the modules of a WOW64 target.
func moduleBase(pid int, module string) (memory.Address, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(pid))
	if err != nil {
		return 0, fmt.Errorf("module snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var me windows.ModuleEntry32
	me.Size = uint32(windows.SizeofModuleEntry32)
	for err = windows.Module32First(snap, &me); err == nil; err = windows.Module32Next(snap, &me) {
		if strings.EqualFold(windows.UTF16ToString(me.Module[:]), module) {
			return memory.Address(me.ModBaseAddr), nil
		}
	}
	return 0, fmt.Errorf("module %s not loaded in process %d", module, pid)
}

// findWindow returns the first visible top level window of pid.
func findWindow(pid int) uintptr {
	var found windows.HWND
	cb := windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		var owner uint32
		if _, err := windows.GetWindowThreadProcessId(hwnd, &owner); err != nil {
			return 1
		}
		if int(owner) == pid && windows.IsWindowVisible(hwnd) {
			found = hwnd
			return 0
		}
		return 1
	})
	// EnumWindows reports an error when the callback stops it early
	_ = windows.EnumWindows(cb, nil)
	return uintptr(found)
}
