package tracee

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
)

// startStoppedTracee starts a sleeping child and attaches to it. The child
// is killed when the test finishes.
func startStoppedTracee(t *testing.T) int {
	t.Helper()
	target := exec.Command("sleep", "60")
	if err := target.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		target.Process.Kill()
		target.Wait()
	})
	time.Sleep(100 * time.Millisecond)

	if err := Attach(target.Process.Pid); err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("ptrace not permitted: %v", err)
		}
		t.Fatal(err)
	}
	t.Cleanup(func() { Detach(target.Process.Pid) })
	return target.Process.Pid
}

func TestAllocateWriteReadFree(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := startStoppedTracee(t)

	before, err := BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}

	address, err := Allocate(pid, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if address == 0 {
		t.Fatal("mmap in the tracee returned address 0")
	}

	payload := []byte("a quick round trip through another address space\x00")
	if err := WriteMemory(pid, address, payload); err != nil {
		t.Fatal(err)
	}
	readBack := make([]byte, len(payload))
	if err := ReadMemory(pid, address, readBack); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, readBack) {
		t.Errorf("read back %q, want %q", readBack, payload)
	}

	if err := Free(pid, address, 4096); err != nil {
		t.Fatal(err)
	}

	// The injected mmap and munmap calls must leave no trace in the
	// register file.
	after, err := BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}
	if *before.Regs() != *after.Regs() {
		t.Errorf("register file changed across allocate/free:\nbefore %+v\nafter  %+v", *before.Regs(), *after.Regs())
	}
}

func TestRegisterBackupRestoreClone(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := startStoppedTracee(t)

	original, err := BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}

	modified := original.Clone()
	modified.Regs().Rax = 0xfeedface
	if original.Regs().Rax == 0xfeedface {
		t.Fatal("Clone shares state with the original snapshot")
	}
	if err := modified.RestoreRegisters(); err != nil {
		t.Fatal(err)
	}

	current, err := BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}
	if current.Regs().Rax != 0xfeedface {
		t.Errorf("rax = %#x after restore of the modified snapshot, want 0xfeedface", current.Regs().Rax)
	}

	if err := original.RestoreRegisters(); err != nil {
		t.Fatal(err)
	}
	current, err = BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}
	if *current.Regs() != *original.Regs() {
		t.Errorf("register file not restored:\nwant %+v\ngot  %+v", *original.Regs(), *current.Regs())
	}
}

func TestDisassembleAtRip(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := startStoppedTracee(t)

	state, err := BackupRegisters(pid)
	if err != nil {
		t.Fatal(err)
	}
	instructions, err := DisassembleAt(pid, state.Regs().Rip, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(instructions) != 1 || instructions[0].Size == 0 {
		t.Errorf("could not decode the instruction at rip: %+v", instructions)
	}
}

func TestAttachNoSuchProcess(t *testing.T) {
	if err := Attach(1 << 22); err == nil {
		t.Error("expected an error attaching to a nonexistent pid")
		Detach(1 << 22)
	}
}
