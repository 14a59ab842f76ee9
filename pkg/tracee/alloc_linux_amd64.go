package tracee

import (
	"fmt"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/liblift/liblift/pkg/logflags"
)

// syscallInsn is `syscall; int3`. It is written over the instructions at
// the tracee's current rip, executed, and the original bytes are put back
// afterwards.
var syscallInsn = []byte{0x0f, 0x05, 0xcc}

// remoteSyscall executes a system call inside the stopped tracee with the
// given arguments and returns the value left in rax. Registers and the
// clobbered instruction bytes are restored before returning.
func remoteSyscall(pid int, call uint64, args [6]uint64) (uint64, error) {
	original, err := BackupRegisters(pid)
	if err != nil {
		return 0, err
	}
	rip := original.Regs().Rip

	savedCode := make([]byte, len(syscallInsn))
	if err := ReadMemory(pid, rip, savedCode); err != nil {
		return 0, err
	}
	if err := WriteMemory(pid, rip, syscallInsn); err != nil {
		return 0, err
	}

	result, err := runRemoteSyscall(pid, original, call, args)

	if restoreErr := WriteMemory(pid, rip, savedCode); restoreErr != nil && err == nil {
		err = fmt.Errorf("could not restore instructions at %#x in process %d: %v", rip, pid, restoreErr)
	}
	if restoreErr := original.RestoreRegisters(); restoreErr != nil && err == nil {
		err = restoreErr
	}
	if err != nil {
		return 0, err
	}
	return result, nil
}

func runRemoteSyscall(pid int, original *RegisterState, call uint64, args [6]uint64) (uint64, error) {
	entry := original.Clone()
	regs := entry.Regs()
	regs.Rax = call
	regs.Rdi = args[0]
	regs.Rsi = args[1]
	regs.Rdx = args[2]
	regs.R10 = args[3]
	regs.R8 = args[4]
	regs.R9 = args[5]
	if err := entry.RestoreRegisters(); err != nil {
		return 0, err
	}
	if err := sys.PtraceCont(pid, 0); err != nil {
		return 0, fmt.Errorf("could not continue process %d: %v", pid, err)
	}
	var status sys.WaitStatus
	wpid, err := sys.Wait4(pid, &status, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("error waiting for process %d: %v", pid, err)
	}
	if wpid != pid || !status.Stopped() || status.StopSignal() != sys.SIGTRAP {
		return 0, fmt.Errorf("process %d did not stop with SIGTRAP after system call (status %#x)", pid, status)
	}
	after, err := BackupRegisters(pid)
	if err != nil {
		return 0, err
	}
	result := after.Regs().Rax
	// Linux returns errors as small negative values in rax.
	if result > ^uint64(0)-4095 {
		return 0, syscall.Errno(-result)
	}
	return result, nil
}

// Allocate reserves size bytes of readable, writable and executable memory
// in the tracee with an injected mmap call and returns its base address.
func Allocate(pid int, size uint64) (uint64, error) {
	address, err := remoteSyscall(pid, sys.SYS_MMAP, [6]uint64{
		0,
		size,
		uint64(sys.PROT_READ | sys.PROT_WRITE | sys.PROT_EXEC),
		uint64(sys.MAP_PRIVATE | sys.MAP_ANONYMOUS),
		^uint64(0),
		0,
	})
	if err != nil {
		return 0, fmt.Errorf("could not allocate %d bytes in process %d: %v", size, pid, err)
	}
	logflags.TraceeLogger().Debugf("allocated %d bytes at %#x in process %d", size, address, pid)
	return address, nil
}

// Free releases an allocation made with Allocate by exact base address and
// size with an injected munmap call.
func Free(pid int, address, size uint64) error {
	if _, err := remoteSyscall(pid, sys.SYS_MUNMAP, [6]uint64{address, size}); err != nil {
		return fmt.Errorf("could not free %d bytes at %#x in process %d: %v", size, address, pid, err)
	}
	logflags.TraceeLogger().Debugf("freed %d bytes at %#x in process %d", size, address, pid)
	return nil
}
