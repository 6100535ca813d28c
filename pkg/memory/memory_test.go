package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseAllOrNothing(t *testing.T) {
	s := NewSparse()
	s.Map(0x1000, []byte{1, 2, 3})

	buf, err := s.ReadMemory(0x1000, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)

	// one byte past the mapping fails the whole read
	buf, err = s.ReadMemory(0x1000, 4)
	assert.Nil(t, buf)
	assert.True(t, errors.Is(err, ErrUnmapped))

	var ae *AccessError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "read", ae.Op)
	assert.Equal(t, Address(0x1000), ae.Addr)
	assert.Equal(t, 4, ae.Size)

	// a failed write leaves memory untouched
	err = s.WriteMemory(0x1002, []byte{9, 9})
	assert.Error(t, err)
	buf, err = s.ReadMemory(0x1000, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestTypedReads(t *testing.T) {
	s := NewSparse()
	s.MapUint32(0x2000, 0xdeadbeef)
	s.MapFloat32(0x2004, 1.5)
	s.MapUint32(0x2008, 0xfffffffe)

	v, err := ReadUint32(s, 0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)

	f, err := ReadFloat32(s, 0x2004)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f)

	i, err := ReadInt32(s, 0x2008)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), i)

	p, err := ReadPointer(s, 0x2000)
	require.NoError(t, err)
	assert.Equal(t, Address(0xdeadbeef), p)

	vs, err := ReadUint32s(s, 0x2000, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xdeadbeef, 0x3fc00000, 0xfffffffe}, vs)

	_, err = ReadUint32s(s, 0x2000, -1)
	assert.Error(t, err)

	_, err = ReadUint32(s, 0x3000)
	assert.Error(t, err)

	require.NoError(t, WriteInt32(s, 0x2008, 42))
	i, err = ReadInt32(s, 0x2008)
	require.NoError(t, err)
	assert.Equal(t, int32(42), i)

	require.NoError(t, WriteUint8(s, 0x2000, 0xcc))
	b, err := ReadUint8(s, 0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xcc), b)
}

func TestParseAddress(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Address
		ok   bool
	}{
		{"0x163373", 0x163373, true},
		{"4096", 4096, true},
		{"zz", 0, false},
	} {
		got, err := ParseAddress(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
	assert.Equal(t, "0x10c", Address(0x10c).String())
	assert.Equal(t, Address(0x100), Address(0x10c).Add(-0xc))
}
