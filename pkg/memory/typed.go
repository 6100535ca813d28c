package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PointerSize is the pointer width of the target, which is a 32-bit process.
const PointerSize = 4

var byteOrder = binary.LittleEndian

// ReadUint8 读取1字节
func ReadUint8(r Reader, addr Address) (uint8, error) {
	buf, err := r.ReadMemory(addr, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint32 读取4字节无符号整数
func ReadUint32(r Reader, addr Address) (uint32, error) {
	buf, err := r.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf), nil
}

// ReadInt32 读取4字节有符号整数
func ReadInt32(r Reader, addr Address) (int32, error) {
	v, err := ReadUint32(r, addr)
	return int32(v), err
}

// ReadFloat32 读取4字节浮点数
func ReadFloat32(r Reader, addr Address) (float32, error) {
	v, err := ReadUint32(r, addr)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadPointer reads a target pointer and returns it as an Address.
func ReadPointer(r Reader, addr Address) (Address, error) {
	v, err := ReadUint32(r, addr)
	return Address(v), err
}

// ReadUint32s reads n consecutive dwords starting at addr in one transfer.
func ReadUint32s(r Reader, addr Address, n int) ([]uint32, error) {
	if n < 0 {
		return nil, fmt.Errorf("read %d dwords at %v: negative count", n, addr)
	}
	buf, err := r.ReadMemory(addr, n*4)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = byteOrder.Uint32(buf[i*4:])
	}
	return out, nil
}

// WriteUint8 写入1字节
func WriteUint8(w Writer, addr Address, v uint8) error {
	return w.WriteMemory(addr, []byte{v})
}

// WriteInt32 写入4字节有符号整数
func WriteInt32(w Writer, addr Address, v int32) error {
	buf := make([]byte, 4)
	byteOrder.PutUint32(buf, uint32(v))
	return w.WriteMemory(addr, buf)
}

// PutUint32 encodes v the way the target stores dwords. Used to build
// memory images.
func PutUint32(buf []byte, v uint32) {
	byteOrder.PutUint32(buf, v)
}

// PutFloat32 encodes v the way the target stores floats.
func PutFloat32(buf []byte, v float32) {
	byteOrder.PutUint32(buf, math.Float32bits(v))
}

// Uint32 decodes a dword from the front of buf.
func Uint32(buf []byte) uint32 {
	return byteOrder.Uint32(buf)
}

// Float32 decodes a float from the front of buf.
func Float32(buf []byte) float32 {
	return math.Float32frombits(byteOrder.Uint32(buf))
}
