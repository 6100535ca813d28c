package target

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen is the longest x86 instruction.
const maxInstLen = 15

// Instruction 一条反汇编得到的指令
type Instruction struct {
	Addr  memory.Address
	Bytes []byte
	Asm   string
}

// Disassemble decodes up to max 32-bit instructions at addr. Trap bytes of
// breakpoints in bps are replaced by their original byte first.
func Disassemble(r memory.Reader, addr memory.Address, max int, syntax string, bps []Breakpoint) ([]Instruction, error) {
	r = Unpatched(r, bps)
	size := max * maxInstLen
	dat, err := r.ReadMemory(addr, size)
	for err != nil && size > 1 {
		// the range may cross into an unmapped page
		size /= 2
		dat, err = r.ReadMemory(addr, size)
	}
	if err != nil {
		return nil, fmt.Errorf("peek text error: %w", err)
	}

	var insts []Instruction
	offset := 0
	for len(insts) < max && offset < len(dat) {
		inst, err := x86asm.Decode(dat[offset:], 32)
		if err != nil {
			if len(insts) > 0 {
				break
			}
			return nil, fmt.Errorf("x86asm decode error: %v", err)
		}

		pc := addr.Add(int64(offset))
		asm, err := instSyntax(inst, uint64(pc), syntax)
		if err != nil {
			return nil, fmt.Errorf("x86asm syntax error: %v", err)
		}

		end := offset + inst.Len
		insts = append(insts, Instruction{Addr: pc, Bytes: dat[offset:end], Asm: asm})
		offset = end
	}
	return insts, nil
}

type unpatched struct {
	r   memory.Reader
	bps []Breakpoint
}

// Unpatched returns a reader showing the code as it was before the enabled
// breakpoints of bps were written.
func Unpatched(r memory.Reader, bps []Breakpoint) memory.Reader {
	if len(bps) == 0 {
		return r
	}
	return unpatched{r: r, bps: bps}
}

func (u unpatched) ReadMemory(addr memory.Address, size int) ([]byte, error) {
	dat, err := u.r.ReadMemory(addr, size)
	if err != nil {
		return nil, err
	}
	for _, bp := range u.bps {
		if bp.Enabled && bp.Addr >= addr && bp.Addr < addr.Add(int64(len(dat))) {
			dat[bp.Addr-addr] = bp.Orig
		}
	}
	return dat, nil
}

// PrintInstructions writes insts as an aligned listing.
func PrintInstructions(w io.Writer, insts []Instruction) error {
	tw := tabwriter.NewWriter(w, 0, 4, 8, ' ', 0)
	for _, inst := range insts {
		fmt.Fprintf(tw, "%v:\t% x\t%s\n", inst.Addr, inst.Bytes, inst.Asm)
	}
	return tw.Flush()
}

func instSyntax(inst x86asm.Inst, pc uint64, syntax string) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, pc, nil)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, pc, nil)
	case "intel":
		asm = x86asm.IntelSyntax(inst, pc, nil)
	default:
		return "", fmt.Errorf("invalid asm syntax error")
	}
	return asm, nil
}
