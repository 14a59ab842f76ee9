package tracee

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

var maxInstructionLength uint64 = 15

// AsmInstruction is one decoded instruction read out of the tracee.
type AsmInstruction struct {
	Addr uint64
	Size int
	Text string
}

// DisassembleAt reads up to count instructions starting at address in the
// tracee and decodes them. Used to inspect the prologue of a resolved
// function.
func DisassembleAt(pid int, address uint64, count int) ([]AsmInstruction, error) {
	mem := make([]byte, uint64(count)*maxInstructionLength)
	if err := ReadMemory(pid, address, mem); err != nil {
		return nil, err
	}
	out := make([]AsmInstruction, 0, count)
	pc := address
	off := 0
	for i := 0; i < count; i++ {
		inst, err := x86asm.Decode(mem[off:], 64)
		if err != nil {
			return out, fmt.Errorf("could not decode instruction at %#x in process %d: %v", pc, pid, err)
		}
		out = append(out, AsmInstruction{
			Addr: pc,
			Size: inst.Len,
			Text: x86asm.IntelSyntax(inst, pc, nil),
		})
		off += inst.Len
		pc += uint64(inst.Len)
	}
	return out, nil
}
