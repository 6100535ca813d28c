package memory

import (
	"os"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMemoryWriteFlushes(t *testing.T) {
	pm, err := OpenProcessMemory(os.Getpid())
	require.NoError(t, err)
	defer pm.Close()

	buf := []byte{0x55, 0x8b, 0xec, 0x90}
	addr := Address(uintptr(unsafe.Pointer(&buf[0])))

	require.NoError(t, WriteUint8(pm, addr, 0xcc))
	got, err := pm.ReadMemory(addr, len(buf))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcc, 0x8b, 0xec, 0x90}, got)
	assert.Equal(t, byte(0xcc), buf[0])
	runtime.KeepAlive(buf)
}
