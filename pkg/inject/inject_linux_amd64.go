package inject

import (
	"fmt"
	"strings"

	"github.com/liblift/liblift/pkg/logflags"
	"github.com/liblift/liblift/pkg/tracee"
)

// codeScratchPadSize is the size of the memory area reserved in the tracee
// for the machine code of one remote call. Inline arguments (path and
// symbol strings) are placed right behind it.
const codeScratchPadSize = 1024

// Loader flag bits understood by the glibc dynamic linker.
const (
	RTLDLazy   uint32 = 0x0001
	RTLDNow    uint32 = 0x0002
	RTLDGlobal uint32 = 0x0100
	RTLDLocal  uint32 = 0
)

// ParseRTLDFlags converts a comma separated list of loader flag names
// ("lazy", "now", "global", "local") into the flag bits for dlopen.
func ParseRTLDFlags(s string) (uint32, error) {
	var flags uint32
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "lazy":
			flags |= RTLDLazy
		case "now":
			flags |= RTLDNow
		case "global":
			flags |= RTLDGlobal
		case "local", "":
			// RTLD_LOCAL is zero.
		default:
			return 0, fmt.Errorf("unknown loader flag %q", name)
		}
	}
	return flags, nil
}

// DlopenInTracee loads the shared library at path into the process
// identified by pid by calling the tracee's own dlopen. The returned
// handle is opaque; zero means the loader rejected the library and is not
// promoted to an error here.
func DlopenInTracee(pid int, path string, flag uint32) (uint64, error) {
	// Figure out the address of dlopen: the public dlopen in libdl, or
	// the internal entry point __libc_dlopen_mode in libc. A dlopen that
	// only libc exports (glibc 2.34 on) is not looked up.
	addressDlopen, err := findFunctionAddressWithFallback(pid, "dlopen", "libdl", "__libc_dlopen_mode", "libc")
	if err != nil {
		return 0, err
	}

	originalRegisters, err := tracee.BackupRegisters(pid)
	if err != nil {
		return 0, err
	}

	// Allocate a small memory area in the tracee for the code and the
	// path of the library.
	pathPayload := append([]byte(path), 0)
	memorySize := codeScratchPadSize + uint64(len(pathPayload))
	addressCode, err := tracee.Allocate(pid, memorySize)
	if err != nil {
		return 0, err
	}

	addressSoPath := addressCode + codeScratchPadSize
	if err := tracee.WriteMemory(pid, addressSoPath, pathPayload); err != nil {
		freeMemoryOrDie(pid, addressCode, memorySize)
		return 0, err
	}

	// We want to do the following in the tracee:
	// return_value = dlopen(path, flag);
	// The calling convention is to put the parameters in rdi and rsi.
	// Assembly in Intel syntax (destination first), machine code on the
	// right:
	//
	// movabsq rdi, address_so_path     48 bf address_so_path
	// movl esi, flag                   be flag
	// movabsq rax, address_dlopen      48 b8 address_dlopen
	// call rax                         ff d0
	// int3                             cc
	var code MachineCode
	code.AppendBytes(0x48, 0xbf).
		AppendImmediate64(addressSoPath).
		AppendBytes(0xbe).
		AppendImmediate32(flag).
		AppendBytes(0x48, 0xb8).
		AppendImmediate64(addressDlopen).
		AppendBytes(0xff, 0xd0).
		AppendBytes(0xcc)
	if err := tracee.WriteMemory(pid, addressCode, code.Bytes()); err != nil {
		freeMemoryOrDie(pid, addressCode, memorySize)
		return 0, err
	}

	executeOrDie(pid, originalRegisters, addressCode)

	handle := getReturnValueOrDie(pid)
	logflags.InjectLogger().Debugf("dlopen(%q, %#x) in process %d returned %#x", path, flag, pid, handle)

	restoreRegistersOrDie(originalRegisters)
	freeMemoryOrDie(pid, addressCode, memorySize)
	return handle, nil
}

// DlsymInTracee resolves symbol against a handle from a prior
// DlopenInTracee by calling the tracee's dlsym. A zero result is the
// loader's own failure indication and is passed through.
func DlsymInTracee(pid int, handle uint64, symbol string) (uint64, error) {
	addressDlsym, err := findFunctionAddressWithFallback(pid, "dlsym", "libdl", "__libc_dlsym", "libc")
	if err != nil {
		return 0, err
	}

	originalRegisters, err := tracee.BackupRegisters(pid)
	if err != nil {
		return 0, err
	}

	symbolPayload := append([]byte(symbol), 0)
	memorySize := codeScratchPadSize + uint64(len(symbolPayload))
	addressCode, err := tracee.Allocate(pid, memorySize)
	if err != nil {
		return 0, err
	}

	addressSymbolName := addressCode + codeScratchPadSize
	if err := tracee.WriteMemory(pid, addressSymbolName, symbolPayload); err != nil {
		freeMemoryOrDie(pid, addressCode, memorySize)
		return 0, err
	}

	// We want to do the following in the tracee:
	// return_value = dlsym(handle, symbol);
	//
	// movabsq rdi, handle              48 bf handle
	// movabsq rsi, address_symbol_name 48 be address_symbol_name
	// movabsq rax, address_dlsym       48 b8 address_dlsym
	// call rax                         ff d0
	// int3                             cc
	var code MachineCode
	code.AppendBytes(0x48, 0xbf).
		AppendImmediate64(handle).
		AppendBytes(0x48, 0xbe).
		AppendImmediate64(addressSymbolName).
		AppendBytes(0x48, 0xb8).
		AppendImmediate64(addressDlsym).
		AppendBytes(0xff, 0xd0).
		AppendBytes(0xcc)
	if err := tracee.WriteMemory(pid, addressCode, code.Bytes()); err != nil {
		freeMemoryOrDie(pid, addressCode, memorySize)
		return 0, err
	}

	executeOrDie(pid, originalRegisters, addressCode)

	address := getReturnValueOrDie(pid)
	logflags.InjectLogger().Debugf("dlsym(%#x, %q) in process %d returned %#x", handle, symbol, pid, address)

	restoreRegistersOrDie(originalRegisters)
	freeMemoryOrDie(pid, addressCode, memorySize)
	return address, nil
}

// DlcloseInTracee drops the reference the handle holds on a library loaded
// with DlopenInTracee. A non-zero return of the remote dlclose leaves the
// loader in an undefined state and is fatal.
func DlcloseInTracee(pid int, handle uint64) error {
	addressDlclose, err := findFunctionAddressWithFallback(pid, "dlclose", "libdl", "__libc_dlclose", "libc")
	if err != nil {
		return err
	}

	originalRegisters, err := tracee.BackupRegisters(pid)
	if err != nil {
		return err
	}

	addressCode, err := tracee.Allocate(pid, codeScratchPadSize)
	if err != nil {
		return err
	}

	// We want to do the following in the tracee:
	// dlclose(handle);
	//
	// movabsq rdi, handle              48 bf handle
	// movabsq rax, address_dlclose     48 b8 address_dlclose
	// call rax                         ff d0
	// int3                             cc
	var code MachineCode
	code.AppendBytes(0x48, 0xbf).
		AppendImmediate64(handle).
		AppendBytes(0x48, 0xb8).
		AppendImmediate64(addressDlclose).
		AppendBytes(0xff, 0xd0).
		AppendBytes(0xcc)
	if err := tracee.WriteMemory(pid, addressCode, code.Bytes()); err != nil {
		freeMemoryOrDie(pid, addressCode, codeScratchPadSize)
		return err
	}

	executeOrDie(pid, originalRegisters, addressCode)

	if ret := getReturnValueOrDie(pid); ret != 0 {
		fatalf("unable to unload dynamic library from tracee: dlclose returned %#x", ret)
	}
	logflags.InjectLogger().Debugf("dlclose(%#x) in process %d succeeded", handle, pid)

	restoreRegistersOrDie(originalRegisters)
	freeMemoryOrDie(pid, addressCode, codeScratchPadSize)
	return nil
}
