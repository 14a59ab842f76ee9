package tracee

import (
	"fmt"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// remoteIovec is like golang.org/x/sys/unix.Iovec but uses uintptr for the
// base field instead of *byte so that we can use it with addresses that
// belong to the target process.
type remoteIovec struct {
	base uintptr
	len  uintptr
}

// processVmRead calls process_vm_readv
func processVmRead(pid int, addr uintptr, data []byte) (int, error) {
	lenIov := uint64(len(data))
	localIov := sys.Iovec{Base: &data[0], Len: lenIov}
	remoteIov := remoteIovec{base: addr, len: uintptr(lenIov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_READV, uintptr(pid), uintptr(unsafe.Pointer(&localIov)), 1, uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}

// processVmWrite calls process_vm_writev
func processVmWrite(pid int, addr uintptr, data []byte) (int, error) {
	lenIov := uint64(len(data))
	localIov := sys.Iovec{Base: &data[0], Len: lenIov}
	remoteIov := remoteIovec{base: addr, len: uintptr(lenIov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_WRITEV, uintptr(pid), uintptr(unsafe.Pointer(&localIov)), 1, uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}

// ReadMemory fills data with the bytes at address in the tracee's address
// space. It uses process_vm_readv and falls back to PTRACE_PEEKDATA when
// the fast path is unavailable.
func ReadMemory(pid int, address uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := processVmRead(pid, uintptr(address), data)
	if err == nil && n == len(data) {
		return nil
	}
	n, err = sys.PtracePeekData(pid, uintptr(address), data)
	if err != nil {
		return fmt.Errorf("could not read %d bytes at %#x in process %d: %v", len(data), address, pid, err)
	}
	if n != len(data) {
		return fmt.Errorf("short read at %#x in process %d: %d of %d bytes", address, pid, n, len(data))
	}
	return nil
}

// WriteMemory copies data to address in the tracee's address space.
// process_vm_writev respects page protections so writes into text segments
// go through PTRACE_POKEDATA instead.
func WriteMemory(pid int, address uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if n, err := processVmWrite(pid, uintptr(address), data); err == nil && n == len(data) {
		return nil
	}
	n, err := sys.PtracePokeData(pid, uintptr(address), data)
	if err != nil {
		return fmt.Errorf("could not write %d bytes at %#x in process %d: %v", len(data), address, pid, err)
	}
	if n != len(data) {
		return fmt.Errorf("short write at %#x in process %d: %d of %d bytes", address, pid, n, len(data))
	}
	return nil
}
