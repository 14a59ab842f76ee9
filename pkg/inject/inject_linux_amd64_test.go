package inject

import (
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/liblift/liblift/pkg/tracee"
)

// buildSharedLib compiles a fixture into a shared library. Tests that need
// a C compiler are skipped on machines without one.
func buildSharedLib(t *testing.T, fixture string) string {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("cc not found in PATH")
	}
	out := filepath.Join(t.TempDir(), strings.TrimSuffix(fixture, ".c")+".so")
	src := filepath.Join("..", "..", "_fixtures", fixture)
	cmd := exec.Command(cc, "-shared", "-fPIC", "-o", out, src)
	if combined, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building %s: %v\n%s", fixture, err, combined)
	}
	return out
}

// startTracee builds the loop fixture, starts it and attaches to it. The
// process is killed when the test finishes.
func startTracee(t *testing.T) int {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("cc not found in PATH")
	}
	bin := filepath.Join(t.TempDir(), "loopprog")
	src := filepath.Join("..", "..", "_fixtures", "loopprog.c")
	cmd := exec.Command(cc, "-o", bin, src, "-ldl")
	if combined, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building loopprog: %v\n%s", err, combined)
	}

	target := exec.Command(bin)
	if err := target.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		target.Process.Kill()
		target.Wait()
	})
	// Let the loader finish mapping libc before we attach.
	time.Sleep(100 * time.Millisecond)

	if err := tracee.Attach(target.Process.Pid); err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("ptrace not permitted: %v", err)
		}
		t.Fatal(err)
	}
	t.Cleanup(func() { tracee.Detach(target.Process.Pid) })
	return target.Process.Pid
}

func TestFindFunctionAddressInTracee(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := startTracee(t)
	address, err := FindFunctionAddress(pid, "malloc", "libc")
	if err != nil {
		t.Fatal(err)
	}
	if address == 0 {
		t.Fatal("malloc resolved to address 0")
	}
	// The resolved address must point at decodable code.
	instructions, err := tracee.DisassembleAt(pid, address, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(instructions) != 1 || instructions[0].Addr != address {
		t.Fatalf("prologue at %#x did not decode: %+v", address, instructions)
	}
}

func TestFindFunctionAddressSymbolNotFound(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := startTracee(t)
	_, err := FindFunctionAddress(pid, "zzz_no_such_function", "libc")
	var notFound *SymbolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want SymbolNotFoundError", err)
	}
	if notFound.Symbol != "zzz_no_such_function" || notFound.Prefix != "libc" {
		t.Errorf("error carries %q/%q, want symbol and module prefix", notFound.Symbol, notFound.Prefix)
	}
}

func TestDlopenDlsymDlcloseInTracee(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	libPath := buildSharedLib(t, "libanswer.c")
	pid := startTracee(t)

	before, err := tracee.BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}

	handle, err := DlopenInTracee(pid, libPath, RTLDNow)
	if err != nil {
		// Neither dlopen in libdl nor the internal libc entry point: a C
		// library this test does not know how to drive.
		t.Skipf("cannot resolve a dlopen entry point in the tracee: %v", err)
	}
	if handle == 0 {
		t.Fatal("the tracee's loader rejected the test library")
	}

	address, err := DlsymInTracee(pid, handle, "answer")
	if err != nil {
		t.Fatal(err)
	}
	if address == 0 {
		t.Fatal("dlsym did not find the answer symbol")
	}

	if got := callRemoteFunction(t, pid, address); got != 42 {
		t.Errorf("remote answer() returned %d, want 42", got)
	}

	if err := DlcloseInTracee(pid, handle); err != nil {
		t.Fatal(err)
	}

	after, err := tracee.BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}
	if *before.Regs() != *after.Regs() {
		t.Errorf("register file changed across the operation:\nbefore %+v\nafter  %+v", *before.Regs(), *after.Regs())
	}
}

func TestDlopenMissingLibraryReturnsNullHandle(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := startTracee(t)
	handle, err := DlopenInTracee(pid, "/no/such/library.so", RTLDNow)
	if err != nil {
		t.Skipf("cannot resolve a dlopen entry point in the tracee: %v", err)
	}
	// The loader signals its own failure with a null handle; that is not an
	// error of this layer.
	if handle != 0 {
		t.Errorf("dlopen of a missing library returned handle %#x, want 0", handle)
	}
}

func TestParseRTLDFlags(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"now", RTLDNow, true},
		{"lazy", RTLDLazy, true},
		{"lazy,global", RTLDLazy | RTLDGlobal, true},
		{"now, global", RTLDNow | RTLDGlobal, true},
		{"local", RTLDLocal, true},
		{"deepbind", 0, false},
	} {
		got, err := ParseRTLDFlags(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseRTLDFlags(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseRTLDFlags(%q) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}

// callRemoteFunction invokes a no-argument function at address in the
// tracee and returns its integer result.
func callRemoteFunction(t *testing.T, pid int, address uint64) uint64 {
	t.Helper()
	originalRegisters, err := tracee.BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}
	addressCode, err := tracee.Allocate(pid, codeScratchPadSize)
	if err != nil {
		t.Fatal(err)
	}

	// movabsq rax, address; call rax; int3
	var code MachineCode
	code.AppendBytes(0x48, 0xb8).
		AppendImmediate64(address).
		AppendBytes(0xff, 0xd0).
		AppendBytes(0xcc)
	if err := tracee.WriteMemory(pid, addressCode, code.Bytes()); err != nil {
		t.Fatal(err)
	}

	executeOrDie(pid, originalRegisters, addressCode)
	result := getReturnValueOrDie(pid)
	restoreRegistersOrDie(originalRegisters)
	freeMemoryOrDie(pid, addressCode, codeScratchPadSize)
	return result
}
