package inject

import (
	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/liblift/liblift/pkg/tracee"
)

// In certain error conditions the tracee is damaged and we don't try to
// recover from that: once injected code has run there is no way to reason
// about what state the process is in. The *OrDie functions below abort the
// controller with a diagnostic instead of returning.
var fatalf func(format string, args ...interface{}) = logrus.Fatalf

func freeMemoryOrDie(pid int, addressCode, size uint64) {
	if err := tracee.Free(pid, addressCode, size); err != nil {
		fatalf("unable to free previously allocated memory in tracee: %v", err)
	}
}

func restoreRegistersOrDie(state *tracee.RegisterState) {
	if err := state.RestoreRegisters(); err != nil {
		fatalf("unable to restore register state in tracee: %v", err)
	}
}

func getReturnValueOrDie(pid int) uint64 {
	returnValueRegisters, err := tracee.BackupRegisters(pid)
	if err != nil {
		fatalf("unable to read registers after function call: %v", err)
	}
	return returnValueRegisters.Regs().Rax
}

// executeOrDie runs the code at addressCode in the tracee. The code blob
// has to end with an int3. Every register other than rip keeps the value
// the tracee was stopped with, so callees find a well formed stack.
func executeOrDie(pid int, originalRegisters *tracee.RegisterState, addressCode uint64) {
	registersSetRip := originalRegisters.Clone()
	registersSetRip.Regs().Rip = addressCode
	if err := registersSetRip.RestoreRegisters(); err != nil {
		fatalf("unable to set registers in tracee: %v", err)
	}
	if err := sys.PtraceCont(pid, 0); err != nil {
		fatalf("unable to continue tracee with PTRACE_CONT: %v", err)
	}
	var status sys.WaitStatus
	waited, err := sys.Wait4(pid, &status, 0, nil)
	if err != nil || waited != pid || !status.Stopped() || status.StopSignal() != sys.SIGTRAP {
		fatalf("failed to wait for SIGTRAP after PTRACE_CONT of process %d (status %#x, err %v)", pid, status, err)
	}
}
