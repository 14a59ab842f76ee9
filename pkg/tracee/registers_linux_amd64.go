package tracee

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// RegisterState is a snapshot of the general purpose registers of a
// stopped tracee. The snapshot can be edited and written back with
// RestoreRegisters; Clone makes it cheap to derive a modified register
// file while keeping the original for the final restore.
type RegisterState struct {
	pid  int
	regs sys.PtraceRegs
}

// BackupRegisters captures the general purpose registers of pid.
func BackupRegisters(pid int) (*RegisterState, error) {
	state := &RegisterState{pid: pid}
	if err := sys.PtraceGetRegs(pid, &state.regs); err != nil {
		return nil, fmt.Errorf("could not read registers of process %d: %v", pid, err)
	}
	return state, nil
}

// RestoreRegisters writes the snapshot back into the tracee.
func (state *RegisterState) RestoreRegisters() error {
	if err := sys.PtraceSetRegs(state.pid, &state.regs); err != nil {
		return fmt.Errorf("could not set registers of process %d: %v", state.pid, err)
	}
	return nil
}

// Regs returns the raw register file for inspection or modification.
func (state *RegisterState) Regs() *sys.PtraceRegs {
	return &state.regs
}

// Pid returns the process the snapshot was taken from.
func (state *RegisterState) Pid() int {
	return state.pid
}

// Clone returns an independent copy of the snapshot.
func (state *RegisterState) Clone() *RegisterState {
	clone := *state
	return &clone
}
