//go:build !(linux && amd64) && !(windows && amd64)

package target

import (
	"fmt"
	"runtime"
)

// Attach is unsupported on this platform.
func Attach(pid int) (Tracer, error) {
	return nil, fmt.Errorf("debugging not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}
