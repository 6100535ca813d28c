// Package symbol reads the layout of the game module from the image the
// loader mapped into the target.
package symbol

import (
	"debug/pe"
	"errors"
	"fmt"
	"io"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// ErrNotCode is returned for an offset outside every executable section.
var ErrNotCode = errors.New("offset outside executable sections")

// ModuleInfo 模块镜像信息
type ModuleInfo struct {
	Base          memory.Address
	Machine       uint16
	TimeDateStamp uint32 // link time, differs between builds
	EntryPoint    uint32 // relative to Base
	SizeOfImage   uint32
	Sections      []Section
}

// Section 节区信息
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Characteristics uint32
}

// Contains reports whether the module offset rva lies in s.
func (s Section) Contains(rva uint32) bool {
	return rva >= s.VirtualAddress && rva-s.VirtualAddress < s.VirtualSize
}

// Executable reports whether s is mapped executable.
func (s Section) Executable() bool {
	return s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0
}

// Analyze parses the PE headers mapped at base.
func Analyze(r memory.Reader, base memory.Address) (*ModuleInfo, error) {
	f, err := pe.NewFile(imageReader{r: r, base: base})
	if err != nil {
		return nil, fmt.Errorf("module at %v: %w", base, err)
	}
	if f.Machine != pe.IMAGE_FILE_MACHINE_I386 {
		return nil, fmt.Errorf("module at %v: unexpected machine %#x", base, f.Machine)
	}

	mi := &ModuleInfo{
		Base:          base,
		Machine:       f.Machine,
		TimeDateStamp: f.TimeDateStamp,
	}
	if oh, ok := f.OptionalHeader.(*pe.OptionalHeader32); ok {
		mi.EntryPoint = oh.AddressOfEntryPoint
		mi.SizeOfImage = oh.SizeOfImage
	}
	for _, s := range f.Sections {
		mi.Sections = append(mi.Sections, Section{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			Characteristics: s.Characteristics,
		})
	}
	return mi, nil
}

// Section returns the section holding the module offset rva.
func (mi *ModuleInfo) Section(rva uint32) (Section, bool) {
	for _, s := range mi.Sections {
		if s.Contains(rva) {
			return s, true
		}
	}
	return Section{}, false
}

// CheckCode returns ErrNotCode unless rva lies in an executable section.
func (mi *ModuleInfo) CheckCode(rva uint32) error {
	if s, ok := mi.Section(rva); ok && s.Executable() {
		return nil
	}
	return fmt.Errorf("%#x: %w", rva, ErrNotCode)
}

// imageReader maps file offsets to the mapped image. Only the headers are
// read through it, and those are mapped at the same offsets as in the file.
type imageReader struct {
	r    memory.Reader
	base memory.Address
}

func (ir imageReader) ReadAt(p []byte, off int64) (int, error) {
	dat, err := ir.r.ReadMemory(ir.base.Add(off), len(p))
	if err != nil {
		return 0, err
	}
	n := copy(p, dat)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
