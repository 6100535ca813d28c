package target

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command line of process.
func readProcComm(pid int) (string, error) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		// removes newline character
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
		rexp, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("regexp compile error: %v", err)
		}
		match := rexp.FindSubmatch(stat)
		if match == nil {
			return "", fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
		}
		comm = match[1]
	}
	return string(comm), nil
}

// readProcCommArgs read /proc/pid/cmdline to load the command arguments of process
func readProcCommArgs(pid int) ([]string, error) {
	dat, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	args := strings.Split(strings.TrimSuffix(string(dat), "\x00"), "\x00")
	return args, nil
}

// matchExe reports whether pid runs exe. Under wine the Windows path of
// the image is argv[0] and comm holds its truncated basename.
func matchExe(pid int, exe string) bool {
	exe = strings.ToLower(exe)
	if args, err := readProcCommArgs(pid); err == nil && len(args) > 0 {
		arg0 := strings.ToLower(strings.ReplaceAll(args[0], `\`, "/"))
		if filepath.Base(arg0) == exe {
			return true
		}
	}
	comm, err := readProcComm(pid)
	if err != nil || comm == "" {
		return false
	}
	comm = strings.ToLower(comm)
	// comm is cut to 15 bytes
	if len(comm) >= 15 {
		return strings.HasPrefix(exe, comm)
	}
	return comm == exe
}

// findProcess returns the lowest pid running exe.
func findProcess(exe string) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}
	found := 0
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		if matchExe(pid, exe) && (found == 0 || pid < found) {
			found = pid
		}
	}
	if found == 0 {
		return 0, fmt.Errorf("%s: %w", exe, ErrProcessNotFound)
	}
	return found, nil
}

// moduleBase returns the start of the lowest mapping of module in
// /proc/pid/maps.
func moduleBase(pid int, module string) (memory.Address, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	module = strings.ToLower(module)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		start, path, ok := parseMapsLine(sc.Text())
		if !ok || strings.ToLower(filepath.Base(path)) != module {
			continue
		}
		return start, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("module %s not mapped in process %d", module, pid)
}

// parseMapsLine parses "start-end perms offset dev inode path".
func parseMapsLine(line string) (memory.Address, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return 0, "", false
	}
	rng := strings.SplitN(fields[0], "-", 2)
	start, err := strconv.ParseUint(rng[0], 16, 64)
	if err != nil {
		return 0, "", false
	}
	return memory.Address(start), strings.Join(fields[5:], " "), true
}

// findWindow has no meaning without a window system handle.
func findWindow(pid int) uintptr {
	return 0
}
