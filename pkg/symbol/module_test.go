package symbol

import (
	"debug/pe"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = memory.Address(0x00400000)

// headers builds the PE headers of a module with a .text and a .data
// section and no data directories.
func headers(machine uint16) []byte {
	buf := make([]byte, 0x400)
	le := binary.LittleEndian

	copy(buf, "MZ")
	le.PutUint32(buf[0x3c:], 0x40)
	copy(buf[0x40:], "PE\x00\x00")

	fh := buf[0x44:]
	le.PutUint16(fh[0:], machine)
	le.PutUint16(fh[2:], 2)          // sections
	le.PutUint32(fh[4:], 0x5f3a1c00) // time stamp
	le.PutUint16(fh[16:], 96)        // optional header without directories
	le.PutUint16(fh[18:], 0x0102)

	oh := buf[0x58:]
	le.PutUint16(oh[0:], 0x10b)
	le.PutUint32(oh[16:], 0x1234) // entry point
	le.PutUint32(oh[56:], 0x9000) // size of image

	section := func(at []byte, name string, va, size, flags uint32) {
		copy(at, name)
		le.PutUint32(at[8:], size)
		le.PutUint32(at[12:], va)
		le.PutUint32(at[16:], size)
		le.PutUint32(at[20:], va)
		le.PutUint32(at[36:], flags)
	}
	section(buf[0xb8:], ".text", 0x1000, 0x5000, pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_MEM_READ)
	section(buf[0xe0:], ".data", 0x6000, 0x2000, pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_READ|pe.IMAGE_SCN_MEM_WRITE)
	return buf
}

func TestAnalyze(t *testing.T) {
	mem := memory.NewSparse()
	mem.Map(base, headers(pe.IMAGE_FILE_MACHINE_I386))

	mi, err := Analyze(mem, base)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5f3a1c00), mi.TimeDateStamp)
	assert.Equal(t, uint32(0x1234), mi.EntryPoint)
	assert.Equal(t, uint32(0x9000), mi.SizeOfImage)
	require.Len(t, mi.Sections, 2)
	assert.Equal(t, ".text", mi.Sections[0].Name)

	s, ok := mi.Section(0x1000)
	require.True(t, ok)
	assert.True(t, s.Executable())

	assert.NoError(t, mi.CheckCode(0x5fff))
	assert.True(t, errors.Is(mi.CheckCode(0x6000), ErrNotCode))
	assert.True(t, errors.Is(mi.CheckCode(0x20000), ErrNotCode))
}

func TestAnalyzeRejects(t *testing.T) {
	mem := memory.NewSparse()
	_, err := Analyze(mem, base)
	assert.Error(t, err)

	mem.Map(base, headers(pe.IMAGE_FILE_MACHINE_AMD64))
	_, err = Analyze(mem, base)
	assert.Error(t, err)
}
